package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"workspacestore/internal/logx"
	"workspacestore/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Store holds the current snapshot of one lineage and serializes
// transactions against it. Readers never block on writers beyond the pointer
// swap.
type Store struct {
	mu       sync.RWMutex
	current  *Snapshot
	registry *Registry
	engine   *domain.RulesEngine
	logger   logx.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	nowFn    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logx.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithTracer overrides the tracer used for transaction spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithSnapshot starts the store from an existing snapshot instead of an
// empty lineage root.
func WithSnapshot(snap *Snapshot) Option {
	return func(s *Store) {
		if snap != nil {
			s.current = snap
		}
	}
}

// NewStore seals reg and returns a store over an empty snapshot. A nil
// engine evaluates no rules.
func NewStore(reg *Registry, engine *domain.RulesEngine, opts ...Option) (*Store, error) {
	if reg == nil {
		return nil, errors.New("new store: registry is required")
	}
	if err := reg.Seal(); err != nil {
		return nil, fmt.Errorf("new store: %w", err)
	}
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		registry: reg,
		engine:   engine,
		logger:   logx.Nop(),
		tracer:   otel.Tracer("workspacestore/core"),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.current == nil {
		s.current = NewSnapshot(reg)
	}
	if s.current.registry != reg {
		return nil, errors.New("new store: snapshot was built against a different registry")
	}
	return s, nil
}

// Registry returns the sealed registry.
func (s *Store) Registry() *Registry { return s.registry }

// RulesEngine exposes the configured rules engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// Current returns the latest committed snapshot.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace swaps in snap, typically one restored from an archive.
func (s *Store) Replace(snap *Snapshot) error {
	if snap == nil || snap.registry != s.registry {
		return errors.New("replace snapshot: registry mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = snap
	s.logger.Info("snapshot replaced", zap.Uint64("version", snap.version), zap.Int("entities", snap.size))
	return nil
}

// View runs fn against the current snapshot.
func (s *Store) View(_ context.Context, fn func(*Snapshot) error) error {
	return fn(s.Current())
}

// RunInTransaction derives a builder from the current snapshot, runs fn,
// evaluates the rules against the uncommitted state and commits. Blocking
// violations abort with domain.RuleViolationError and leave the store
// unchanged.
func (s *Store) RunInTransaction(ctx context.Context, fn func(*Builder) error) (res domain.Result, err error) {
	ctx, span := s.tracer.Start(ctx, "Store.RunInTransaction")
	defer span.End()
	started := s.nowFn()
	defer func() {
		outcome := "committed"
		switch {
		case errors.As(err, new(domain.RuleViolationError)):
			outcome = "blocked"
		case err != nil:
			outcome = "failed"
		}
		s.metrics.observeTransaction(outcome, s.nowFn().Sub(started))
		span.SetAttributes(attribute.String("store.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.current.Derive().WithLogger(s.logger)
	span.SetAttributes(
		attribute.String("store.builder", b.ID().String()),
		attribute.Int64("store.base_version", int64(s.current.version)),
	)
	if err := fn(b); err != nil {
		return domain.Result{}, err
	}

	changes := b.Changes()
	result, err := s.engine.Evaluate(ctx, b, changes)
	if err != nil {
		return domain.Result{}, err
	}
	for _, v := range result.Violations {
		s.metrics.observeViolation(v.Rule, string(v.Severity))
		s.logger.Warn("rule violation",
			zap.String("rule", v.Rule),
			zap.String("severity", string(v.Severity)),
			zap.Stringer("entity", v.EntityID),
			zap.String("message", v.Message))
	}
	if result.HasBlocking() {
		return result, domain.RuleViolationError{Result: result}
	}

	next, err := b.Commit()
	if err != nil {
		return result, err
	}
	s.current = next
	for _, ch := range changes {
		s.metrics.observeChange(string(ch.Entity), string(ch.Action))
	}
	span.SetAttributes(
		attribute.Int("store.changes", len(changes)),
		attribute.Int64("store.version", int64(next.version)),
	)
	s.logger.Debug("transaction committed", zap.Uint64("version", next.version), zap.Int("changes", len(changes)))
	return result, nil
}
