package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/qualityhub/issueflow/internal/issuestore"
	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/types"
)

const storeScopeName = "github.com/qualityhub/issueflow/internal/issuestore"

// InstrumentedSaver wraps an issuestore.Saver with a span per Save and the
// iflow.issues.* metrics. Use WrapSaver to create one.
type InstrumentedSaver struct {
	inner     issuestore.Saver
	tracer    trace.Tracer
	saves     metric.Int64Counter
	saved     metric.Int64Counter
	conflicts metric.Int64Counter
	errs      metric.Int64Counter
	dur       metric.Float64Histogram
}

// WrapSaver returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapSaver(s issuestore.Saver) issuestore.Saver {
	if !Enabled() {
		return s
	}
	return newInstrumentedSaver(s, Tracer(storeScopeName), Meter(storeScopeName))
}

func newInstrumentedSaver(s issuestore.Saver, tracer trace.Tracer, m metric.Meter) *InstrumentedSaver {
	saves, _ := m.Int64Counter("iflow.issues.saves",
		metric.WithDescription("Save calls on the issue store"),
	)
	saved, _ := m.Int64Counter("iflow.issues.saved",
		metric.WithDescription("Issues persisted, by outcome"),
	)
	conflicts, _ := m.Int64Counter("iflow.issues.conflicts",
		metric.WithDescription("Updates rejected because the issue was modified concurrently"),
	)
	errs, _ := m.Int64Counter("iflow.issues.errors",
		metric.WithDescription("Save calls that failed"),
	)
	dur, _ := m.Float64Histogram("iflow.issues.save.duration",
		metric.WithDescription("Save duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &InstrumentedSaver{
		inner:     s,
		tracer:    tracer,
		saves:     saves,
		saved:     saved,
		conflicts: conflicts,
		errs:      errs,
		dur:       dur,
	}
}

// Save implements issuestore.Saver.
func (s *InstrumentedSaver) Save(ctx context.Context, issues []*types.Issue) ([]*storage.IssueRecord, error) {
	var inserts int
	for _, issue := range issues {
		if issue.IsNew {
			inserts++
		}
	}
	attrs := []attribute.KeyValue{attribute.Int("iflow.issue.count", len(issues))}
	ctx, span := s.tracer.Start(ctx, "issuestore.Save",
		trace.WithAttributes(append(attrs, attribute.Int("iflow.issue.inserts", inserts))...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()
	start := time.Now()
	s.saves.Add(ctx, 1)

	records, err := s.inner.Save(ctx, issues)

	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	s.saved.Add(ctx, int64(len(records)))
	var conflict *issuestore.ConflictError
	if errors.As(err, &conflict) {
		s.conflicts.Add(ctx, int64(len(conflict.Keys)))
		span.SetAttributes(attribute.StringSlice("iflow.issue.conflicts", conflict.Keys))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1)
	}
	return records, err
}
