package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"gitlab.com/circuit-breaker/engine/common/setup"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// Prints the JetStream objects the engine creates for a workflow, in the format accepted by --nats-config.
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: nats-config <workflow-id>")
		os.Exit(2)
	}
	wf := os.Args[1]
	cfg := &setup.NatsConfig{
		Streams: []setup.NatsStream{
			{
				Config: setup.WorkflowStreamConfig(wf, setup.Retention{}),
				Consumers: []setup.NatsConsumer{
					{Config: setup.DurableEventConsumerConfig(messages.ProjectorDurablePrefix+wf, wf, "resource projection of workflow "+wf, 30*time.Second)},
					{Config: setup.DurableEventConsumerConfig(messages.ArchiverDurablePrefix+wf, wf, "event archive of workflow "+wf, 30*time.Second)},
				},
			},
		},
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}
