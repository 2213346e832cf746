// Package router selects the execution strategy for an action and normalizes
// the outcome. The transition rule, evaluated in order: a supplied remote
// action-server target wins regardless of trust; otherwise trusted actions
// run in-process and everything else goes to the sandbox.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/convoserve/actionkernel/pkg/catalog"
	"github.com/convoserve/actionkernel/pkg/contracts"
	"github.com/convoserve/actionkernel/pkg/delegate"
	"github.com/convoserve/actionkernel/pkg/requires"
	"github.com/convoserve/actionkernel/pkg/sandbox"
	"github.com/convoserve/actionkernel/pkg/trust"
)

const instrumentationName = "github.com/convoserve/actionkernel/pkg/router"

// Strategy names used in logs, spans and metrics.
const (
	strategyRemote    = "remote"
	strategyTrusted   = "trusted"
	strategySandboxed = "sandboxed"
)

// Request is one action execution. ActionServer, when set, forces remote
// delegation. IncomingEvent is mutated in place by in-process strategies.
type Request struct {
	BotID         string
	ActionName    string
	ActionServer  *contracts.ActionServer
	IncomingEvent *contracts.Event
	ActionArgs    map[string]any
}

// Options tune the router.
type Options struct {
	// StrictRequires runs require-graph validation before any in-process
	// execution.
	StrictRequires bool
	// APIFactory builds the per-call capability handle for script bundles.
	APIFactory contracts.APIFactory
}

// Service is the execution entry point exposed to callers.
type Service struct {
	reg       *catalog.Registry
	trust     *trust.Classifier
	requires  *requires.Resolver
	sandboxed *sandbox.Runner
	trusted   *sandbox.TrustedRunner
	delegate  *delegate.Client
	opts      Options
	log       *slog.Logger

	tracer     trace.Tracer
	executions metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewService wires the router. All collaborators are required except the
// delegate client, which may be nil when no remote servers are configured.
func NewService(
	reg *catalog.Registry,
	classifier *trust.Classifier,
	resolver *requires.Resolver,
	sandboxed *sandbox.Runner,
	trusted *sandbox.TrustedRunner,
	delegateClient *delegate.Client,
	opts Options,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		reg:       reg,
		trust:     classifier,
		requires:  resolver,
		sandboxed: sandboxed,
		trusted:   trusted,
		delegate:  delegateClient,
		opts:      opts,
		log:       log.With("component", "router"),
		tracer:    otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if s.executions, err = meter.Int64Counter("action.executions",
		metric.WithDescription("Action executions by strategy")); err != nil {
		s.log.Warn("could not create executions counter", "error", err)
	}
	if s.failures, err = meter.Int64Counter("action.failures",
		metric.WithDescription("Failed action executions by strategy")); err != nil {
		s.log.Warn("could not create failures counter", "error", err)
	}
	if s.duration, err = meter.Float64Histogram("action.duration",
		metric.WithDescription("Action execution duration"), metric.WithUnit("s")); err != nil {
		s.log.Warn("could not create duration histogram", "error", err)
	}
	return s
}

// RunAction executes the named action and returns the resulting event: the
// same, possibly mutated, event for in-process strategies, or the event
// returned by the remote server for delegation. Every failure, whatever the
// stage, is logged with its origin and normalized into ExecutionError.
func (s *Service) RunAction(ctx context.Context, req Request) (*contracts.Event, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "action.run", trace.WithAttributes(
		attribute.String("bot.id", req.BotID),
		attribute.String("action.name", req.ActionName),
	))
	defer span.End()

	ev, strategy, err := s.run(ctx, req)

	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("error", err != nil),
	)
	if s.executions != nil {
		s.executions.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}

	if err != nil {
		if s.failures != nil {
			s.failures.Add(ctx, 1, attrs)
		}
		stack := stackOf(err)
		s.log.Error("action execution failed",
			"bot", req.BotID, "action", req.ActionName, "strategy", strategy,
			"error", err, "stack", stack)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ExecutionError{Message: err.Error(), ActionName: req.ActionName, Stack: stack}
	}

	span.SetStatus(codes.Ok, "")
	return ev, nil
}

func (s *Service) run(ctx context.Context, req Request) (*contracts.Event, string, error) {
	if req.IncomingEvent == nil {
		return nil, strategyTrusted, fmt.Errorf("incoming event is required")
	}
	req.IncomingEvent.EnsureState()

	// 1. A remote target always wins, regardless of trust.
	if req.ActionServer != nil {
		if s.delegate == nil {
			return nil, strategyRemote, fmt.Errorf("no delegation client configured for action server %q", req.ActionServer.ID)
		}
		ev, err := s.delegate.Execute(ctx, delegate.Request{
			BotID:         req.BotID,
			ActionName:    req.ActionName,
			ActionArgs:    req.ActionArgs,
			IncomingEvent: req.IncomingEvent,
			Server:        *req.ActionServer,
		})
		return ev, strategyRemote, err
	}

	// 2. Classify trust and run in-process.
	def, err := s.reg.FindAction(ctx, req.BotID, req.ActionName)
	if err != nil {
		return nil, strategyTrusted, err
	}
	trusted := s.trust.IsTrusted(ctx, req.BotID, req.ActionName)
	strategy := strategySandboxed
	if trusted {
		strategy = strategyTrusted
	}

	if s.opts.StrictRequires && !s.requires.Check(ctx, req.BotID, def) {
		return nil, strategy, &requires.ValidationError{ActionName: req.ActionName}
	}

	script, err := s.reg.ScriptFor(ctx, req.BotID, def)
	if err != nil {
		return nil, strategy, err
	}

	// Local requires are loaded up front so the interpreter never resolves
	// an import on its own.
	modules, err := s.requires.Modules(ctx, req.BotID, def)
	if err != nil {
		return nil, strategy, err
	}

	var api any
	if s.opts.APIFactory != nil {
		api = s.opts.APIFactory(req.IncomingEvent)
	}
	bundle := sandbox.NewBundle(api, req.IncomingEvent, req.ActionArgs)

	if trusted {
		err = s.trusted.Run(ctx, script, bundle, modules...)
	} else {
		err = s.sandboxed.Run(ctx, script, bundle, modules...)
	}
	if err != nil {
		return nil, strategy, err
	}
	return req.IncomingEvent, strategy, nil
}

// stackOf extracts a stack where the failure carried one.
func stackOf(err error) string {
	var runErr *sandbox.RunError
	if errors.As(err, &runErr) {
		return runErr.Stack
	}
	return ""
}
