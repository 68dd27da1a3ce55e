package tracer

import (
	"fmt"
	"io"
	"strings"

	"github.com/nats-io/nats.go"
	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/model"
)

// OpenTrace represents a running trace.
type OpenTrace struct {
	sub *nats.Subscription
}

// Close stops the trace. The connection is left open.
func (o *OpenTrace) Close() error {
	if err := o.sub.Drain(); err != nil {
		return fmt.Errorf("drain trace subscription: %w", err)
	}
	return nil
}

// Subject returns the subject traced for a workflow. An empty workflow traces all of them.
func Subject(workflowID string) string {
	if workflowID == "" {
		return "workflows.>"
	}
	return "workflows." + workflowID + ".>"
}

// Trace subscribes to the workflow event and placement subjects and writes a one line summary of each message to w.
func Trace(nc *nats.Conn, workflowID string, w io.Writer) (*OpenTrace, error) {
	sub, err := nc.Subscribe(Subject(workflowID), func(msg *nats.Msg) {
		_, _ = fmt.Fprintln(w, Summarise(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe trace: %w", err)
	}
	return &OpenTrace{sub: sub}, nil
}

// Summarise renders a workflow message as a single line.
func Summarise(msg *nats.Msg) string {
	switch {
	case strings.Contains(msg.Subject, ".events."):
		ev := &model.Event{}
		if err := codec.JSON.Unmarshal(msg.Data, ev); err != nil {
			return msg.Subject + " [undecodable event]"
		}
		from := ev.FromPlace
		if from == "" {
			from = "-"
		}
		s := fmt.Sprintf("%s %s %s %s->%s v%d by:%s", msg.Subject, ev.EventType, last4(ev.TokenID), from, ev.ToPlace, ev.ResourceVersion, ev.TriggeredBy)
		if ev.TransitionID != "" {
			s += " via:" + ev.TransitionID
		}
		if len(ev.Warnings) > 0 {
			s += " warn:[" + strings.Join(ev.Warnings, ",") + "]"
		}
		return s
	case strings.HasSuffix(msg.Subject, ".tokens"):
		n := &model.PlaceNotification{}
		if err := codec.JSON.Unmarshal(msg.Data, n); err != nil {
			return msg.Subject + " [undecodable notification]"
		}
		dir := "left"
		if n.Entered {
			dir = "entered"
		}
		return fmt.Sprintf("%s %s %s", msg.Subject, last4(n.TokenID), dir)
	default:
		return msg.Subject
	}
}

func last4(s string) string {
	if len(s) < 4 {
		return s
	}
	return s[len(s)-4:]
}
