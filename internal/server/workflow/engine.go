package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gitlab.com/circuit-breaker/engine/common/expression"
	"gitlab.com/circuit-breaker/engine/common/logx"
	"gitlab.com/circuit-breaker/engine/common/version"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
	"gitlab.com/circuit-breaker/engine/server/services/natz"
	"gitlab.com/circuit-breaker/engine/server/services/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultGuardTimeout bounds the evaluation of the conditions of one activity.
const DefaultGuardTimeout = 2 * time.Second

// ConditionFunc is a custom guard condition registered with the engine by name.
// It must honour ctx; evaluation is abandoned when the guard timeout expires.
type ConditionFunc func(ctx context.Context, env model.GuardEnv, c model.Condition) (bool, error)

// Options configure the engine.
type Options struct {
	GuardTimeout time.Duration
	Storage      storage.Options
}

// Engine contains the workflow, resource and transition operations.
type Engine struct {
	closing      chan struct{}
	tr           trace.Tracer
	store        *storage.Nats
	expr         expression.Engine
	guardTimeout time.Duration
	functionsMx  sync.RWMutex
	functions    map[string]ConditionFunc
}

// New returns an instance of the engine over an established NATS service.
func New(ctx context.Context, ns *natz.NatsService, opts Options) (*Engine, error) {
	store, err := storage.New(ctx, ns, opts.Storage)
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}
	if opts.GuardTimeout <= 0 {
		opts.GuardTimeout = DefaultGuardTimeout
	}
	return &Engine{
		closing:      make(chan struct{}),
		tr:           otel.GetTracerProvider().Tracer("circuit-breaker", trace.WithInstrumentationVersion(version.Version)),
		store:        store,
		expr:         &expression.ExprEngine{},
		guardTimeout: opts.GuardTimeout,
		functions:    make(map[string]ConditionFunc),
	}, nil
}

// Start resumes processing for every stored workflow.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Start(ctx); err != nil {
		return fmt.Errorf("start storage: %w", err)
	}
	logx.FromContext(ctx).Info("engine started", slog.String("version", version.Version))
	return nil
}

// Ready returns true once queries by place reflect every stored resource.
func (e *Engine) Ready() bool {
	return e.store.PlacesReady()
}

// Shutdown stops the engine.  Further operations fail with ErrClosed.
func (e *Engine) Shutdown() {
	select {
	case <-e.closing:
		return
	default:
		close(e.closing)
	}
	e.store.Shutdown()
}

// RegisterCondition makes a custom condition function available to workflow definitions.
// Functions must be registered before definitions that use them are created.
func (e *Engine) RegisterCondition(name string, fn ConditionFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("register condition: %w", errors2.ErrMissingID)
	}
	e.functionsMx.Lock()
	defer e.functionsMx.Unlock()
	e.functions[name] = fn
	return nil
}

func (e *Engine) function(name string) (ConditionFunc, bool) {
	e.functionsMx.RLock()
	defer e.functionsMx.RUnlock()
	fn, ok := e.functions[name]
	return fn, ok
}

func (e *Engine) functionRegistered(name string) bool {
	_, ok := e.function(name)
	return ok
}

func (e *Engine) checkOpen() error {
	select {
	case <-e.closing:
		return errors2.ErrClosed
	default:
		return nil
	}
}
