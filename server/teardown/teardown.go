package teardown

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/server/messages"
)

// Teardown deletes every workflow event stream and key value bucket owned by the engine.
// Each deletion is reported to out. Objects that cannot be deleted are reported and skipped.
func Teardown(ctx context.Context, js jetstream.JetStream, out io.Writer) error {
	names := js.StreamNames(ctx)
	streams := make([]string, 0)
	for n := range names.Name() {
		if strings.HasPrefix(n, messages.StreamPrefix) {
			streams = append(streams, n)
		}
	}
	if err := names.Err(); err != nil {
		return fmt.Errorf("list streams: %w", err)
	}
	for _, n := range streams {
		if err := js.DeleteStream(ctx, n); err != nil {
			fmt.Fprintf(out, "*Not Deleted Stream %s: %s\n", n, err.Error())
		} else {
			fmt.Fprintf(out, "Deleted stream %s\n", n)
		}
	}
	kvDelete(ctx, js, out, messages.AllBuckets...)
	return nil
}

func kvDelete(ctx context.Context, js jetstream.JetStream, out io.Writer, buckets ...string) {
	for _, v := range buckets {
		if err := js.DeleteKeyValue(ctx, v); err != nil {
			fmt.Fprintf(out, "*Not Deleted %s: %s\n", v, err.Error())
		} else {
			fmt.Fprintf(out, "Deleted %s\n", v)
		}
	}
}
