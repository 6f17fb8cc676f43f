package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/repairguide-backend/internal/domain"
	"github.com/yungbote/repairguide-backend/internal/observability"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

type instrumented struct {
	next     Gateway
	provider string
	metrics  *observability.Metrics
	tracer   trace.Tracer
	log      *logger.Logger
}

// Instrument wraps next with metrics, one span per call, and failure logging.
// Errors coming out of the wrapper are always *Error.
func Instrument(next Gateway, provider string, metrics *observability.Metrics, log *logger.Logger) Gateway {
	if log == nil {
		log = logger.NewNop()
	}
	return &instrumented{
		next:     next,
		provider: provider,
		metrics:  metrics,
		tracer:   observability.Tracer(),
		log:      log.With("component", "gateway", "provider", provider),
	}
}

func (g *instrumented) ListTopics(ctx context.Context, cred domain.Credential) (domain.TopicList, error) {
	ctx, done := g.start(ctx, OpListTopics)
	topics, err := g.next.ListTopics(ctx, cred)
	err = done(err, attribute.Int("topics.count", len(topics)))
	return topics, err
}

func (g *instrumented) GenerateSteps(ctx context.Context, cred domain.Credential, topic string) (domain.TutorialContent, error) {
	ctx, done := g.start(ctx, OpGenerateSteps)
	steps, err := g.next.GenerateSteps(ctx, cred, topic)
	err = done(err, attribute.Int("steps.count", len(steps)))
	return steps, err
}

func (g *instrumented) GenerateImage(ctx context.Context, cred domain.Credential, prompt string) (domain.GeneratedImage, error) {
	ctx, done := g.start(ctx, OpGenerateImage)
	img, err := g.next.GenerateImage(ctx, cred, prompt)
	err = done(err, attribute.Int("image.bytes", len(img.DataURI)))
	return img, err
}

func (g *instrumented) Release(cred domain.Credential) { Release(g.next, cred) }

func (g *instrumented) start(ctx context.Context, op Op) (context.Context, func(error, ...attribute.KeyValue) error) {
	began := time.Now()
	ctx, span := g.tracer.Start(ctx, "gateway."+string(op), trace.WithAttributes(
		attribute.String("gateway.provider", g.provider),
		attribute.String("gateway.op", string(op)),
	))
	return ctx, func(err error, attrs ...attribute.KeyValue) error {
		defer span.End()
		outcome := "ok"
		if err != nil {
			err = Classify(op, err)
			outcome = ReasonOf(err).String()
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, outcome)
			g.log.Warn("gateway call failed", "op", string(op), "reason", outcome, "error", err)
		} else {
			span.SetAttributes(attrs...)
		}
		g.metrics.ObserveGatewayCall(g.provider, string(op), outcome, time.Since(began))
		return err
	}
}
