// Package telemetry wires Sentry tracing and error capture for the indexing
// pipeline, search and the cluster builder.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cloo-solutions/recall/internal/domain"
)

const (
	serverName   = "recall"
	flushTimeout = 5 * time.Second
)

// Transactions that are never sampled.
var unsampled = map[string]bool{
	"GET /health":  true,
	"GET /metrics": true,
}

type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init configures the global Sentry client and returns a flush func. An
// empty DSN, or a client that fails to initialize, yields a no-op.
func Init(cfg Config, log *slog.Logger) (func(), error) {
	noop := func() {}
	if cfg.DSN == "" {
		return noop, nil
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 || cfg.TracesSampleRate > 1 {
		cfg.TracesSampleRate = 1
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		ServerName:       serverName,
		Debug:            cfg.Debug,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		TracesSampler:    sampler(cfg.TracesSampleRate),
		BeforeSend:       dropExpected,
	})
	if err != nil {
		log.Warn("sentry init failed, tracing disabled", slog.String("error", err.Error()))
		return noop, nil
	}

	log.Info("sentry initialized",
		slog.String("environment", cfg.Environment),
		slog.Float64("sample_rate", cfg.TracesSampleRate))
	return func() { sentry.Flush(flushTimeout) }, nil
}

// Child spans inherit their parent's decision.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if unsampled[ctx.Span.Name] {
			return 0
		}
		if ctx.Span.ParentSpanID != (sentry.SpanID{}) {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// dropExpected filters events for a missing provider or index, which are a
// configuration state rather than a fault.
func dropExpected(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint != nil && !reportable(hint.OriginalException) {
		return nil
	}
	return event
}

func reportable(err error) bool {
	if err == nil {
		return true
	}
	return !domain.IsCapabilityAbsent(err) && !errors.Is(err, context.Canceled)
}

// Attr tags a span.
type Attr struct {
	Key   string
	Value string
}

func Document(id string) Attr { return Attr{Key: "document_id", Value: id} }
func Stage(name string) Attr  { return Attr{Key: "stage", Value: name} }
func Tier(name string) Attr   { return Attr{Key: "tier", Value: name} }

// Span is safe to use when nil or when no client is configured.
type Span struct {
	inner *sentry.Span
}

// StartSpan opens a child of the span carried by ctx, or a new transaction
// named op when there is none.
func StartSpan(ctx context.Context, op string, attrs ...Attr) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(op)
	} else {
		span = sentry.StartSpan(ctx, op, sentry.WithTransactionName(op))
	}
	for _, a := range attrs {
		if a.Value != "" {
			span.SetTag(a.Key, a.Value)
		}
	}
	return span.Context(), &Span{inner: span}
}

func (s *Span) SetTag(key, value string) {
	if s != nil && s.inner != nil {
		s.inner.SetTag(key, value)
	}
}

// Fail marks the span errored and reports err unless it is expected.
func (s *Span) Fail(err error) {
	if s == nil || s.inner == nil || err == nil {
		return
	}
	if !reportable(err) {
		s.inner.Status = sentry.SpanStatusUnavailable
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	CaptureError(s.inner.Context(), err)
}

func (s *Span) End() {
	if s != nil && s.inner != nil {
		s.inner.Finish()
	}
}

func (s *Span) Context() context.Context {
	if s == nil || s.inner == nil {
		return context.Background()
	}
	return s.inner.Context()
}

// CaptureError reports err on the hub carried by ctx, falling back to the
// global hub.
func CaptureError(ctx context.Context, err error) {
	if err == nil || !reportable(err) {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
