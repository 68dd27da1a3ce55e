package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	version2 "github.com/hashicorp/go-version"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"gitlab.com/circuit-breaker/engine/common/codec"
	"gitlab.com/circuit-breaker/engine/common/header"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/common/middleware"
	version3 "gitlab.com/circuit-breaker/engine/common/version"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

// NatsConn is the trimmed down NATS Connection interface that only encompasses the methods used by the engine
type NatsConn interface {
	QueueSubscribe(subj string, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, bytes []byte) error
	PublishMsg(msg *nats.Msg) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Save saves a value to a key value store
func Save(ctx context.Context, kv jetstream.KeyValue, k string, v []byte) (uint64, error) {
	log := logx.FromContext(ctx)
	if log.Enabled(ctx, errors2.VerboseLevel) {
		log.Log(ctx, errors2.VerboseLevel, "Set KV", slog.String("bucket", kv.Bucket()), slog.String("key", k), slog.Int("len", len(v)))
	}
	rev, err := kv.Put(ctx, k, v)
	if err != nil {
		return 0, fmt.Errorf("save kv: %w", err)
	}
	return rev, nil
}

// Load loads a value from a key value store
func Load(ctx context.Context, kv jetstream.KeyValue, k string) ([]byte, uint64, error) {
	log := logx.FromContext(ctx)
	if log.Enabled(ctx, errors2.VerboseLevel) {
		log.Log(ctx, errors2.VerboseLevel, "Get KV", slog.Any("bucket", kv.Bucket()), slog.String("key", k))
	}
	b, err := kv.Get(ctx, k)
	if err == nil {
		return b.Value(), b.Revision(), nil
	}
	return nil, 0, fmt.Errorf("load value from KV: %w", err)
}

// CreateObj saves an object to a key value store only if the key does not already exist.
func CreateObj(ctx context.Context, kv jetstream.KeyValue, k string, v any) (uint64, error) {
	b, err := codec.Msgpack.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("create object in KV: %w", err)
	}
	rev, err := kv.Create(ctx, k, b)
	if err != nil {
		return 0, fmt.Errorf("create kv: %w", err)
	}
	return rev, nil
}

// UpdateObjRev replaces an object only if the stored revision is still rev.
func UpdateObjRev(ctx context.Context, kv jetstream.KeyValue, k string, v any, rev uint64) (uint64, error) {
	log := logx.FromContext(ctx)
	if log.Enabled(ctx, errors2.TraceLevel) {
		log.Log(ctx, errors2.TraceLevel, "update KV object at revision", slog.String("bucket", kv.Bucket()), slog.String("key", k), slog.Uint64("rev", rev))
	}
	b, err := codec.Msgpack.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("update object in KV: %w", err)
	}
	nrev, err := kv.Update(ctx, k, b, rev)
	if err != nil {
		return 0, fmt.Errorf("update kv at revision %d: %w", rev, err)
	}
	return nrev, nil
}

// LoadObj loads an object from a key value store, returning its revision.
func LoadObj(ctx context.Context, kv jetstream.KeyValue, k string, v any) (uint64, error) {
	log := logx.FromContext(ctx)
	if log.Enabled(ctx, errors2.TraceLevel) {
		log.Log(ctx, errors2.TraceLevel, "load KV object", slog.String("bucket", kv.Bucket()), slog.String("key", k))
	}
	b, rev, err := Load(ctx, kv, k)
	if err != nil {
		return 0, fmt.Errorf("load object from KV %s(%s): %w", kv.Bucket(), k, err)
	}
	if err := codec.Msgpack.Unmarshal(b, v); err != nil {
		return 0, fmt.Errorf("unmarshal in LoadObj: %w", err)
	}
	return rev, nil
}

// Process processes messages from a durable nats consumer and executes a function against each one.
func Process(ctx context.Context, js jetstream.JetStream, streamName string, traceName string, closer chan struct{}, durable string, concurrency int, middleware []middleware.Receive, fn func(ctx context.Context, log *slog.Logger, msg jetstream.Msg) (bool, error), opts ...ProcessOption) error {
	processOpt := &ProcessOpts{}
	for _, i := range opts {
		i.Set(processOpt)
	}
	log := logx.FromContext(ctx)

	receivers := make([]jetstream.MessagesContext, 0, concurrency)

	for i := 0; i < concurrency; i++ {
		consumer, err := js.Consumer(ctx, streamName, durable)
		if err != nil {
			return fmt.Errorf("check durable consumer '%s' present: %w", durable, err)
		}
		conInfo, err := consumer.Info(ctx)
		if err != nil || conInfo.Config.Durable == "" {
			return fmt.Errorf("durable consumer '%s' is not explicity configured", durable)
		}
		messagesContext, err := consumer.Messages(
			jetstream.WithMessagesErrOnMissingHeartbeat(false),
			jetstream.PullMaxMessages(1),
		)
		if err != nil {
			return fmt.Errorf("process consumer %w", err)
		}
		receivers = append(receivers, messagesContext)

		go func() {
			for {
				m, err := messagesContext.Next()
				if err != nil {
					if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
						return
					}
					if errors.Is(err, nats.ErrConnectionClosed) || strings.Contains(err.Error(), "Server Shutdown") {
						continue
					}
					log.Error("message fetch error", "error", err, "name", traceName)
					continue
				}

				executeCtx, executeLog := logx.NatsMessageLoggingEntrypoint(context.Background(), traceName, m.Headers())
				executeCtx = header.FromMsgHeaderToCtx(executeCtx, m.Headers())
				for _, i := range middleware {
					var err error
					if executeCtx, err = i(executeCtx, m.Headers()); err != nil {
						executeLog.Error("process middleware", "error", err, "durable", durable)
						continue
					}
				}

				ack, err := fn(executeCtx, executeLog, m)
				if err != nil {
					if errors2.IsWorkflowFatal(err) {
						executeLog.Error("fatal error occurred processing function", "error", err, "name", traceName)
						ack = true
					} else {
						executeLog.Error("processing error", "error", err, "name", traceName)
						if processOpt.BackoffCalc != nil {
							if err := processOpt.BackoffCalc(executeCtx, m); err != nil {
								executeLog.Error("backoff error", "error", err)
							}
							continue
						}
					}
				}
				if ack {
					if err := m.Ack(); err != nil {
						log.Error("processing failed to ack", "error", err)
					}
				} else {
					if err := m.Nak(); err != nil {
						log.Error("processing failed to nak", "error", err)
					}
				}
			}
		}()
	}
	go func() {
		<-closer
		for _, i := range receivers {
			i.Stop()
		}
	}()
	return nil
}

var lockVal = make([]byte, 0)

// Lock ensures a lock on a given ID, it returns true if a lock was granted.
func Lock(ctx context.Context, kv jetstream.KeyValue, lockID string) (bool, error) {
	_, err := kv.Create(ctx, lockID, lockVal)
	if errors.Is(err, jetstream.ErrKeyExists) || errors2.IsWrongLastSequence(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("querying lock: %w", err)
	}
	return true, nil
}

// UnLock closes an existing lock.
func UnLock(ctx context.Context, kv jetstream.KeyValue, lockID string) error {
	_, err := kv.Get(ctx, lockID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("unlocking found no lock: %w", err)
	} else if err != nil {
		return fmt.Errorf("unlocking get lock: %w", err)
	}
	if err := kv.Purge(ctx, lockID); err != nil {
		return fmt.Errorf("unlocking: %w", err)
	}
	return nil
}

// PublishObj publishes an object as JSON to a core NATS subject.
func PublishObj(ctx context.Context, conn NatsConn, subject string, v any, middlewareFn ...middleware.Send) error {
	msg := nats.NewMsg(subject)
	b, err := codec.JSON.Marshal(v)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	msg.Data = b
	header.FromCtxToMsgHeader(ctx, &msg.Header)
	for _, fn := range middlewareFn {
		if err := fn(ctx, msg); err != nil {
			return fmt.Errorf("middleware: %w", err)
		}
	}
	if err = conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// KeyPrefixResultOpts represents the options for KeyPrefixSearch function.
// Sort field indicates whether the returned values should be sorted.
// ExcludeDeleted field filters out deleted key-values from the result.
type KeyPrefixResultOpts struct {
	Sort           bool // Sort the returned values
	ExcludeDeleted bool // ExcludeDeleted filters deleted key-values from the result (cost penalty).
}

// KeyPrefixSearch searches for keys in a key-value store that have a specified prefix.
// It retrieves the keys by querying the JetStream stream associated with the key-value store.
func KeyPrefixSearch(ctx context.Context, js jetstream.JetStream, kv jetstream.KeyValue, prefix string, opts KeyPrefixResultOpts) ([]string, error) {
	kvName := kv.Bucket()
	streamName := "KV_" + kvName
	subjectTrim := fmt.Sprintf("$KV.%s.", kvName)
	subjectPrefix := fmt.Sprintf("%s%s.", subjectTrim, prefix)
	kvs, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	nfo, err := kvs.Info(ctx, jetstream.WithSubjectFilter(subjectPrefix+">"))
	if err != nil {
		return nil, fmt.Errorf("get stream info: %w", err)
	}
	ret := make([]string, 0, len(nfo.State.Subjects))
	trim := len(subjectTrim)
	for s := range nfo.State.Subjects {
		if len(s) >= trim {
			ret = append(ret, s[trim:])
		}
	}

	if opts.Sort {
		slices.Sort(ret)
	}
	if opts.ExcludeDeleted {
		var fnErr error
		ret = slices.DeleteFunc(ret, func(k string) bool {
			_, err := kv.Get(ctx, k)
			if err != nil {
				if !errors.Is(err, jetstream.ErrKeyNotFound) {
					fnErr = err
				}
				return true
			}
			return false
		})
		if fnErr != nil {
			return nil, fmt.Errorf("get key value: %w", fnErr)
		}
	}
	return ret, nil
}

// CheckVersion checks the NATS server version against a minimum supported version
func CheckVersion(ctx context.Context, nc *nats.Conn) error {
	nvStr := nc.ConnectedServerVersion()
	nv, err := version2.NewVersion(nvStr)
	if err != nil {
		return fmt.Errorf("parse nats version: %w", err)
	}
	if nv.LessThan(version3.NatsVersion) {
		return fmt.Errorf("nats version %s not supported.  The minimum supported version is %s", nvStr, version3.NatsVersion)
	}
	logx.FromContext(ctx).Debug("nats version", slog.String("version", nvStr))
	return nil
}

const (
	strErrHeader    = "STR_ERR"
	strCancelHeader = "STR_CANCEL"
	strEOF          = "STR_EOF"
)

// StreamingReplyClient establishes a streaming reply client. It creates a subscription
// for replies and invokes a callback function for each received message.
func StreamingReplyClient(ctx context.Context, nc *nats.Conn, msg *nats.Msg, fn func(msg *nats.Msg) error) error {
	ctx, ctxCancel := context.WithCancel(ctx)
	defer ctxCancel()
	ret := make(chan *nats.Msg)
	errs := make(chan error, 1)
	msg.Reply = nats.NewInbox()
	cancelInbox := nats.NewInbox()

	sub, err := nc.Subscribe(msg.Reply, func(m *nats.Msg) {
		if eHdr := m.Header.Get(strErrHeader); eHdr != "" {
			if eHdr != strEOF {
				errs <- fmt.Errorf("%s", eHdr)
			}
			close(errs)
			return
		}
		select {
		case ret <- m:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("unsubscribe", "subject", msg.Subject, "error", err)
		}
	}()

	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	msg.Header.Set(strCancelHeader, cancelInbox)
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	sendCancel := func() {
		if err := nc.PublishMsg(nats.NewMsg(cancelInbox)); err != nil {
			slog.Error("send cancel msg", "error", err)
		}
	}
	for {
		select {
		case r := <-ret:
			if err := fn(r); err != nil {
				sendCancel()
				if errors.Is(err, errors2.ErrStreamCancel) {
					return nil
				}
				return fmt.Errorf("StreamingReplyClient client: %w", err)
			}
		case err := <-errs:
			if err != nil {
				return fmt.Errorf("StreamingReplyClient server: %w", err)
			}
			return nil
		case <-ctx.Done():
			sendCancel()
			return fmt.Errorf("StreamingReplyClient: %w", ctx.Err())
		}
	}
}

type streamNatsReplyconnection interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	PublishMsg(m *nats.Msg) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// StreamingReplyServer sets up a NATS queue subscription to handle streaming reply messages.
// For each request it runs fn in a separate goroutine and forwards every message sent on ret to the reply inbox.
// The stream ends when fn returns, sends an error, or the client cancels.
func StreamingReplyServer(nc streamNatsReplyconnection, subject string, queue string, fn func(req *nats.Msg, ret chan *nats.Msg, errs chan error)) (*nats.Subscription, error) {
	sub, err := nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ret := make(chan *nats.Msg)
		retErr := make(chan error, 1)
		replyInbox := msg.Reply
		cancelInbox := msg.Header.Get(strCancelHeader)
		cancelled := make(chan struct{})
		cSub, err := nc.Subscribe(cancelInbox, func(_ *nats.Msg) {
			select {
			case <-cancelled:
			default:
				close(cancelled)
			}
		})
		if err != nil {
			slog.Error("subscribe to cancel inbox", "error", err, "subject", cancelInbox)
			return
		}
		defer func() {
			if err := cSub.Unsubscribe(); err != nil {
				slog.Error("unsubscribe from cancel inbox", "error", err, "subject", cancelInbox)
			}
		}()

		go func() {
			fn(msg, ret, retErr)
			close(retErr)
		}()
		for {
			select {
			case r := <-ret:
				r.Subject = replyInbox
				if err := nc.PublishMsg(r); err != nil {
					slog.Error("publish streaming message", "error", err, "subject", replyInbox)
				}
			case <-cancelled:
				slog.Debug("client cancelled stream", "subject", msg.Subject)
				go func() {
					// drain so the producer can finish
					for {
						select {
						case <-ret:
						case _, ok := <-retErr:
							if !ok {
								return
							}
						}
					}
				}()
				return
			case e, ok := <-retErr:
				retM := nats.NewMsg(replyInbox)
				if !ok {
					retM.Header.Set(strErrHeader, strEOF)
				} else if errors.Is(e, errors2.ErrStreamCancel) {
					return
				} else {
					retM.Header.Set(strErrHeader, e.Error())
				}
				if err := nc.PublishMsg(retM); err != nil {
					slog.Error("publish error message", "error", err, "subject", replyInbox, "code", retM.Header.Get(strErrHeader))
				}
				return
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("queue subscribe: %w", err)
	}
	return sub, nil
}
