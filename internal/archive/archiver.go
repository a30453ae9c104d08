package archive

import (
	"context"
	"errors"
	"fmt"
	"time"
	"workspacestore/internal/core"
	"workspacestore/internal/logx"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Archiver writes snapshots to a Sink and restores them against a registry.
type Archiver struct {
	sink     Sink
	registry *core.Registry
	logger   logx.Logger
	tracer   trace.Tracer
	nowFn    func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the archiver logger.
func WithLogger(l logx.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer overrides the tracer used for archive spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Archiver) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithClock overrides the document timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.nowFn = now
		}
	}
}

// NewArchiver binds sink to reg.
func NewArchiver(sink Sink, reg *core.Registry, opts ...Option) (*Archiver, error) {
	if sink == nil || reg == nil {
		return nil, errors.New("new archiver: sink and registry are required")
	}
	a := &Archiver{
		sink:     sink,
		registry: reg,
		logger:   logx.Nop(),
		tracer:   otel.Tracer("workspacestore/archive"),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Sink returns the configured sink.
func (a *Archiver) Sink() Sink { return a.sink }

// Archive encodes snap and saves it.
func (a *Archiver) Archive(ctx context.Context, snap *core.Snapshot) (ref Ref, err error) {
	ctx, span := a.tracer.Start(ctx, "Archiver.Archive")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	doc, err := Encode(snap, a.nowFn())
	if err != nil {
		return Ref{}, err
	}
	ref = doc.Ref()
	span.SetAttributes(
		attribute.String("archive.lineage", ref.Lineage.String()),
		attribute.Int64("archive.version", int64(ref.Version)),
		attribute.Int("archive.entities", len(doc.Entities)),
	)
	if err := a.sink.Save(ctx, doc); err != nil {
		a.logger.Error("archive snapshot failed", zap.Stringer("ref", ref), zap.Error(err))
		return Ref{}, err
	}
	a.logger.Info("snapshot archived", zap.Stringer("ref", ref), zap.Int("entities", len(doc.Entities)))
	return ref, nil
}

// Restore loads and decodes the document at ref.
func (a *Archiver) Restore(ctx context.Context, ref Ref) (*core.Snapshot, error) {
	ctx, span := a.tracer.Start(ctx, "Archiver.Restore", trace.WithAttributes(
		attribute.String("archive.lineage", ref.Lineage.String()),
		attribute.Int64("archive.version", int64(ref.Version)),
	))
	defer span.End()
	doc, err := a.sink.Load(ctx, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return a.decode(span, doc)
}

// RestoreLatest restores the newest document of lineage; see Latest.
func (a *Archiver) RestoreLatest(ctx context.Context, lineage uuid.UUID) (*core.Snapshot, error) {
	ctx, span := a.tracer.Start(ctx, "Archiver.RestoreLatest")
	defer span.End()
	doc, err := Latest(ctx, a.sink, lineage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("archive.lineage", doc.Lineage.String()), attribute.Int64("archive.version", int64(doc.Version)))
	return a.decode(span, doc)
}

func (a *Archiver) decode(span trace.Span, doc *Document) (*core.Snapshot, error) {
	snap, err := Decode(a.registry, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Error("restore snapshot failed", zap.Stringer("ref", doc.Ref()), zap.Error(err))
		return nil, fmt.Errorf("restore: %w", err)
	}
	a.logger.Info("snapshot restored", zap.Stringer("ref", doc.Ref()), zap.Int("entities", snap.Len()))
	return snap, nil
}
