package setup

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// Retention bounds a workflow event stream.
type Retention struct {
	MaxMsgs    int64
	MaxBytes   int64
	MaxAge     time.Duration
	Duplicates time.Duration
}

// DefaultDuplicates is the deduplication window used when none is configured.
const DefaultDuplicates = 2 * time.Minute

// WorkflowStreamConfig returns the configuration of the event stream for a workflow.
func WorkflowStreamConfig(workflowID string, r Retention) jetstream.StreamConfig {
	dup := r.Duplicates
	if dup == 0 {
		dup = DefaultDuplicates
	}
	maxMsgs, maxBytes := r.MaxMsgs, r.MaxBytes
	if maxMsgs == 0 {
		maxMsgs = -1
	}
	if maxBytes == 0 {
		maxBytes = -1
	}
	return jetstream.StreamConfig{
		Name:        messages.StreamName(workflowID),
		Description: "events of workflow " + workflowID,
		Subjects:    []string{fmt.Sprintf(messages.WorkflowEventsAll, workflowID)},
		Retention:   jetstream.LimitsPolicy,
		Discard:     jetstream.DiscardOld,
		MaxMsgs:     maxMsgs,
		MaxBytes:    maxBytes,
		MaxAge:      r.MaxAge,
		Duplicates:  dup,
	}
}

// DurableEventConsumerConfig returns a durable pull consumer configuration over every event of a workflow.
func DurableEventConsumerConfig(durable string, workflowID string, description string, ackWait time.Duration) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       durable,
		Description:   description,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: fmt.Sprintf(messages.WorkflowEventsAll, workflowID),
		MaxAckPending: 1,
	}
}
