package tracer

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/model"
)

// OpenDebug represents a running debug capture.
type OpenDebug struct {
	sub  *nats.Subscription
	file *os.File
}

// Close stops the capture and closes the output file.
func (o *OpenDebug) Close() error {
	if err := o.sub.Drain(); err != nil {
		return fmt.Errorf("drain debug subscription: %w", err)
	}
	if err := o.file.Close(); err != nil {
		return fmt.Errorf("close debug file: %w", err)
	}
	return nil
}

// OutputEvent is an event as written by Debug, with the subject it was read from.
type OutputEvent struct {
	model.Event
	Subject string `json:"subject"`
}

// Debug writes every workflow event as a line of JSON to filename.
func Debug(nc *nats.Conn, workflowID string, filename string) (*OpenDebug, error) {
	of, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open debug file: %w", err)
	}
	sub, err := nc.Subscribe(Subject(workflowID), func(msg *nats.Msg) {
		if !strings.Contains(msg.Subject, ".events.") {
			return
		}
		if err := debugOutput(msg, of); err != nil {
			slog.Warn("debug output", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		_ = of.Close()
		return nil, fmt.Errorf("subscribe debug: %w", err)
	}
	return &OpenDebug{sub: sub, file: of}, nil
}

func debugOutput(msg *nats.Msg, of *os.File) error {
	ev := &OutputEvent{Subject: msg.Subject}
	if err := codec.JSON.Unmarshal(msg.Data, &ev.Event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	b, err := codec.JSON.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintln(of, string(b)); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
