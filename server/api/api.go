package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"

	version2 "github.com/hashicorp/go-version"
	"github.com/nats-io/nats.go"
	"gitlab.com/circuit-breaker/engine/common"
	"gitlab.com/circuit-breaker/engine/common/ctxkey"
	"gitlab.com/circuit-breaker/engine/common/header"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/common/middleware"
	"gitlab.com/circuit-breaker/engine/common/telemetry"
	"gitlab.com/circuit-breaker/engine/common/version"
	"gitlab.com/circuit-breaker/engine/internal"
	"gitlab.com/circuit-breaker/engine/internal/server/workflow"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/messages"
	"gitlab.com/circuit-breaker/engine/server/server/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
)

// Endpoints provides the NATS API endpoints of the engine
type Endpoints struct {
	ops                  workflow.Ops
	conn                 common.NatsConn
	subs                 *sync.Map
	panicRecovery        bool
	receiveApiMiddleware []middleware.Receive
	tr                   trace.Tracer
	sem                  chan struct{}
	inFlight             sync.WaitGroup
	shutdownOnce         sync.Once
}

// New creates a new instance of the API server
func New(ops workflow.Ops, conn common.NatsConn, options *option.ServerOptions) (*Endpoints, error) {
	concurrency := options.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	ss := &Endpoints{
		ops:           ops,
		conn:          conn,
		panicRecovery: options.PanicRecovery,
		subs:          &sync.Map{},
		tr:            otel.GetTracerProvider().Tracer(telemetry.TracerName, trace.WithInstrumentationVersion(version.Version)),
		sem:           make(chan struct{}, concurrency),
	}
	ss.receiveApiMiddleware = append(ss.receiveApiMiddleware, telemetry.ReceiveAPIMessageTelemetry(options.TelemetryConfig))
	return ss, nil
}

// Shutdown drains the API subscriptions and waits for running requests.
func (s *Endpoints) Shutdown() {
	slog.Info("stopping api listener")
	s.shutdownOnce.Do(func() {
		s.subs.Range(func(key, _ any) bool {
			sub := key.(*nats.Subscription)
			if err := sub.Drain(); err != nil {
				slog.Error("drain subscription for "+sub.Subject, "error", err)
			}
			return true
		})
		s.inFlight.Wait()
		slog.Info("api listener stopped")
	})
}

// Listen starts the API server listening to incoming requests
func (s *Endpoints) Listen() error {
	if err := listen(s, messages.APIWorkflowCreate, s.createWorkflow); err != nil {
		return fmt.Errorf("APIWorkflowCreate: %w", err)
	}
	if err := listen(s, messages.APIWorkflowGet, s.getWorkflow); err != nil {
		return fmt.Errorf("APIWorkflowGet: %w", err)
	}
	if err := ListenReturnStream(s, messages.APIWorkflowList, s.listWorkflows); err != nil {
		return fmt.Errorf("APIWorkflowList: %w", err)
	}
	if err := listen(s, messages.APIWorkflowActivities, s.listActivities); err != nil {
		return fmt.Errorf("APIWorkflowActivities: %w", err)
	}
	if err := listen(s, messages.APIResourceCreate, s.createResource); err != nil {
		return fmt.Errorf("APIResourceCreate: %w", err)
	}
	if err := listen(s, messages.APIResourceGet, s.getResource); err != nil {
		return fmt.Errorf("APIResourceGet: %w", err)
	}
	if err := listen(s, messages.APIResourceFind, s.findResource); err != nil {
		return fmt.Errorf("APIResourceFind: %w", err)
	}
	if err := listen(s, messages.APIResourceUpdate, s.updateResource); err != nil {
		return fmt.Errorf("APIResourceUpdate: %w", err)
	}
	if err := listen(s, messages.APIResourceDelete, s.deleteResource); err != nil {
		return fmt.Errorf("APIResourceDelete: %w", err)
	}
	if err := listen(s, messages.APIResourceList, s.listResources); err != nil {
		return fmt.Errorf("APIResourceList: %w", err)
	}
	if err := ListenReturnStream(s, messages.APIResourceInPlace, s.resourcesInPlace); err != nil {
		return fmt.Errorf("APIResourceInPlace: %w", err)
	}
	if err := listen(s, messages.APIResourceHistory, s.history); err != nil {
		return fmt.Errorf("APIResourceHistory: %w", err)
	}
	if err := listen(s, messages.APIResourceAvailable, s.availableActivities); err != nil {
		return fmt.Errorf("APIResourceAvailable: %w", err)
	}
	if err := listen(s, messages.APIActivityExecute, s.executeActivity); err != nil {
		return fmt.Errorf("APIActivityExecute: %w", err)
	}
	if err := listen(s, messages.APIStateTransition, s.transitionState); err != nil {
		return fmt.Errorf("APIStateTransition: %w", err)
	}
	if err := listen(s, messages.APIGetVersionInfo, s.versionInfo); err != nil {
		return fmt.Errorf("APIGetVersionInfo: %w", err)
	}
	slog.Info("api listener started")
	return nil
}

// checkCaller rejects clients older than the oldest supported version.
func checkCaller(msg *nats.Msg) error {
	if msg.Subject == messages.APIGetVersionInfo {
		return nil
	}
	callerVersion, err := version2.NewVersion(msg.Header.Get(header.EngineVersion))
	if err != nil {
		return errors.New("version: client version invalid")
	}
	if ok, ver := version.IsCompatible(callerVersion); !ok {
		return errors.New("version: client version >= " + ver.String() + " required")
	}
	return nil
}

// entrypoint builds the request context from the message headers.
func entrypoint(s *Endpoints, msg *nats.Msg) (context.Context, *slog.Logger, error) {
	ctx, log := logx.NatsMessageLoggingEntrypoint(context.Background(), "api", msg.Header)
	for _, i := range s.receiveApiMiddleware {
		var err error
		ctx, err = i(ctx, msg.Header)
		if err != nil {
			return nil, nil, fmt.Errorf("receive middleware %s: %w", reflect.TypeOf(i), err)
		}
	}
	ctx = header.FromMsgHeaderToCtx(ctx, msg.Header)
	ctx = context.WithValue(ctx, ctxkey.APIFunc, msg.Subject)
	return ctx, log, nil
}

// ListenReturnStream sets up a NATS subscription to handle streaming reply messages.
// Each response value is sent as its own message. The stream ends when fn closes it with an error, or returns.
func ListenReturnStream[T any, U any](s *Endpoints, subject string, fn func(ctx context.Context, req *T, res chan<- U, errs chan<- error)) error {
	sub, err := common.StreamingReplyServer(s.conn, subject, messages.APIQueueGroup, func(msg *nats.Msg, retMsgs chan *nats.Msg, retErrs chan error) {
		if err := checkCaller(msg); err != nil {
			retErrs <- errors.New(string(internal.EncodeError(codes.PermissionDenied, &internal.WireError{Kind: internal.KindInternal, Message: err.Error()})))
			return
		}
		ctx, log, err := entrypoint(s, msg)
		if err != nil {
			retErrs <- errors.New(string(internal.EncodeError(codes.Internal, &internal.WireError{Kind: internal.KindFatal, Message: err.Error()})))
			return
		}
		ctx, span := s.tr.Start(ctx, msg.Subject, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		if err := callAPIReturnStream(ctx, s.panicRecovery, msg, retMsgs, retErrs, fn); err != nil {
			log.Error("API call for "+subject+" failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("streaming subscribe to %s: %w", subject, err)
	}
	s.subs.Store(sub, struct{}{})
	return nil
}

func callAPIReturnStream[T any, U any](ctx context.Context, panicRecovery bool, msg *nats.Msg, res chan<- *nats.Msg, errs chan<- error, fn func(ctx context.Context, req *T, res chan<- U, errs chan<- error)) (retErr error) {
	if panicRecovery {
		defer func() {
			if r := recover(); r != nil {
				logPanic(r)
				errs <- errors.New(string(internal.EncodeError(codes.Internal, &internal.WireError{Kind: internal.KindFatal, Message: fmt.Sprint(r)})))
				retErr = fmt.Errorf("recovered from panic: %v", r)
			}
		}()
	}
	req := new(T)
	if err := json.Unmarshal(msg.Data, req); err != nil {
		errs <- errors.New(string(internal.EncodeError(codes.InvalidArgument, &internal.WireError{Kind: internal.KindValidation, Code: errors2.CodeInvalidInput, Message: err.Error()})))
		return fmt.Errorf("unmarshal message data during callAPI: %w", err)
	}
	iRes := make(chan U)
	iErrs := make(chan error, 1)
	go func() {
		fn(ctx, req, iRes, iErrs)
		close(iErrs)
	}()
	for {
		select {
		case e := <-iErrs:
			if e != nil {
				errs <- errors.New(string(internal.EncodeError(internal.ToWire(e))))
			}
			return e
		case r := <-iRes:
			b, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal streaming result: %w", err)
			}
			retMsg := nats.NewMsg("return")
			retMsg.Data = b
			res <- retMsg
		}
	}
}

func listen[T any, U any](s *Endpoints, subject string, fn func(ctx context.Context, req *T) (U, error)) error {
	sub, err := s.conn.QueueSubscribe(subject, messages.APIQueueGroup, func(msg *nats.Msg) {
		s.sem <- struct{}{}
		s.inFlight.Add(1)
		go func() {
			defer func() {
				<-s.sem
				s.inFlight.Done()
			}()
			if err := checkCaller(msg); err != nil {
				errorResponse(msg, codes.PermissionDenied, &internal.WireError{Kind: internal.KindInternal, Message: err.Error()})
				return
			}
			ctx, log, err := entrypoint(s, msg)
			if err != nil {
				errorResponse(msg, codes.Internal, &internal.WireError{Kind: internal.KindFatal, Message: err.Error()})
				return
			}
			ctx, span := s.tr.Start(ctx, msg.Subject, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			if err := callAPI(ctx, s.panicRecovery, msg, fn); err != nil {
				log.Error("API call for "+subject+" failed", "error", err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	s.subs.Store(sub, struct{}{})
	return nil
}

func callAPI[T any, U any](ctx context.Context, panicRecovery bool, msg *nats.Msg, fn func(ctx context.Context, req *T) (U, error)) error {
	if panicRecovery {
		defer recoverAPIpanic(msg)
	}
	req := new(T)
	if err := json.Unmarshal(msg.Data, req); err != nil {
		errorResponse(msg, codes.InvalidArgument, &internal.WireError{Kind: internal.KindValidation, Code: errors2.CodeInvalidInput, Message: err.Error()})
		return fmt.Errorf("unmarshal message data during callAPI: %w", err)
	}
	resMsg, err := fn(ctx, req)
	if err != nil {
		code, w := internal.ToWire(err)
		errorResponse(msg, code, w)
		return fmt.Errorf("API call: %w", err)
	}
	res, err := json.Marshal(resMsg)
	if err != nil {
		errorResponse(msg, codes.Internal, &internal.WireError{Kind: internal.KindFatal, Message: err.Error()})
		return fmt.Errorf("marshal API response: %w", err)
	}
	if err := msg.Respond(res); err != nil {
		return fmt.Errorf("API response: %w", err)
	}
	return nil
}

func recoverAPIpanic(msg *nats.Msg) {
	if r := recover(); r != nil {
		logPanic(r)
		errorResponse(msg, codes.Internal, &internal.WireError{Kind: internal.KindFatal, Message: fmt.Sprint(r)})
	}
}

func logPanic(r any) {
	buf := make([]byte, 16384)
	n := runtime.Stack(buf, false)
	slog.Error("recovered from panic", "panic", r, "stack", string(bytes.TrimRight(buf[:n], "\x00")))
}

func errorResponse(m *nats.Msg, code codes.Code, w *internal.WireError) {
	if err := m.Respond(internal.EncodeError(code, w)); err != nil {
		slog.Error("send error response", "error", err, "code", code, "message", w.Message)
	}
}

// versionInfo reports whether a client may connect.
func (s *Endpoints) versionInfo(_ context.Context, req *model.VersionRequest) (*model.VersionResponse, error) {
	res := &model.VersionResponse{
		ServerVersion:    version.Version,
		MinClientVersion: version.MinClientVersion.String(),
	}
	if v, err := version2.NewVersion(req.ClientVersion); err == nil {
		res.Connectable, _ = version.IsCompatible(v)
	}
	return res, nil
}
