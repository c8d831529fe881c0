// Package telemetry provides the structured pipeline logger, log redaction,
// and the OpenTelemetry bootstrap. Every fulfillment and inquiry step emits
// exactly one JSON line per state (started, then success/failed/skipped)
// and mirrors the same entry into the automation_logs collection so the
// admin API can render an order timeline.
package telemetry

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store"
)

// Step names form a closed set. Dashboards and the admin timeline group by
// these values, so new steps are added here, never inlined as strings.
const (
	StepOrderValidation   = "order_validation"
	StepStatusTransition  = "status_transition"
	StepProviderSelection = "provider_selection"
	StepTokenRefresh      = "token_refresh"
	StepProviderCall      = "provider_call"
	StepEmailDelivery     = "email_delivery"
	StepManualFallback    = "manual_fallback"
	StepBreakerUpdate     = "breaker_update"
	StepInquirySync       = "inquiry_sync"
	StepReplyDispatch     = "reply_dispatch"
	StepReconcileSweep    = "reconcile_sweep"
	StepWebhookReceive    = "webhook_receive"
)

// Step statuses.
const (
	StatusStarted = "started"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

var knownSteps = map[string]bool{
	StepOrderValidation:   true,
	StepStatusTransition:  true,
	StepProviderSelection: true,
	StepTokenRefresh:      true,
	StepProviderCall:      true,
	StepEmailDelivery:     true,
	StepManualFallback:    true,
	StepBreakerUpdate:     true,
	StepInquirySync:       true,
	StepReplyDispatch:     true,
	StepReconcileSweep:    true,
	StepWebhookReceive:    true,
}

// ValidStep reports whether name belongs to the closed step set.
func ValidStep(name string) bool {
	return knownSteps[name]
}

// StepLogger emits one JSON document per pipeline step state. Timestamps
// are millisecond-precision UTC. All metadata passes through Redact before
// leaving the process.
type StepLogger struct {
	zl     *zap.Logger
	sink   *automationSink
	onDrop func()
	now    func() time.Time
}

// StepOption configures a StepLogger.
type StepOption func(*StepLogger)

// WithAutomationSink mirrors every entry into the given collection,
// asynchronously. Entries are dropped rather than blocking the pipeline
// when the sink backlog is full.
func WithAutomationSink(col store.Collection, logger core.Logger) StepOption {
	return func(l *StepLogger) {
		l.sink = newAutomationSink(col, logger)
	}
}

// WithDropHook runs fn whenever a mirror entry is discarded due to
// backlog. The platform hangs a prometheus counter here.
func WithDropHook(fn func()) StepOption {
	return func(l *StepLogger) {
		l.onDrop = fn
	}
}

// WithZapCore substitutes the output core. Tests pair this with
// zaptest/observer to inspect emitted fields.
func WithZapCore(zc zapcore.Core) StepOption {
	return func(l *StepLogger) {
		l.zl = zap.New(zc)
	}
}

// NewStepLogger builds a step logger writing JSON lines to stdout.
func NewStepLogger(opts ...StepOption) *StepLogger {
	l := &StepLogger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.sink != nil {
		l.sink.onDrop = l.onDrop
	}
	if l.zl == nil {
		encCfg := zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			MessageKey:     "message",
			LevelKey:       "level",
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     isoMillisUTC,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeDuration: zapcore.MillisDurationEncoder,
		}
		zc := zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.Lock(os.Stdout),
			zapcore.InfoLevel,
		)
		l.zl = zap.New(zc)
	}
	return l
}

func isoMillisUTC(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// Step begins a step: emits the started entry and returns a handle whose
// completion call emits the terminal entry with the measured duration.
// metadata should carry order_id; it is attached to every entry for the
// step and redacted on the way out.
func (l *StepLogger) Step(correlationID, name string, metadata map[string]any) *Step {
	s := &Step{
		logger:        l,
		name:          name,
		correlationID: correlationID,
		startedAt:     l.now(),
		metadata:      metadata,
	}
	l.emit(correlationID, name, StatusStarted, nil, nil, metadata)
	return s
}

// Skipped records a step that never ran, such as a provider gated out by
// an open circuit. duration_ms is null.
func (l *StepLogger) Skipped(correlationID, name string, metadata map[string]any) {
	l.emit(correlationID, name, StatusSkipped, nil, nil, metadata)
}

// Close flushes the automation sink. Call during shutdown.
func (l *StepLogger) Close(ctx context.Context) error {
	_ = l.zl.Sync()
	if l.sink != nil {
		return l.sink.Close(ctx)
	}
	return nil
}

// Dropped reports how many mirror entries were discarded due to backlog.
func (l *StepLogger) Dropped() int64 {
	if l.sink == nil {
		return 0
	}
	return l.sink.dropped.Load()
}

func (l *StepLogger) emit(correlationID, name, status string, durationMS *float64, stepErr error, metadata map[string]any) {
	redacted := Redact(metadata)

	fields := []zap.Field{
		zap.String("correlation_id", correlationID),
		zap.String("step_name", name),
		zap.String("status", status),
		zap.Float64p("duration_ms", durationMS),
		zap.Any("metadata", redacted),
	}
	if stepErr != nil {
		fields = append(fields, zap.String("error", stepErr.Error()))
	}
	l.zl.Info(name, fields...)

	if l.sink != nil {
		entry := map[string]any{
			"correlation_id": correlationID,
			"step_name":      name,
			"status":         status,
			"metadata":       redacted,
			"logged_at":      l.now(),
		}
		if durationMS != nil {
			entry["duration_ms"] = *durationMS
		}
		if orderID, ok := metadata["order_id"]; ok {
			entry["order_id"] = orderID
		}
		if stepErr != nil {
			entry["error"] = stepErr.Error()
		}
		l.sink.enqueue(entry)
	}
}

// Step is one in-flight pipeline step.
type Step struct {
	logger        *StepLogger
	name          string
	correlationID string
	startedAt     time.Time
	metadata      map[string]any
	done          bool
}

// Success emits the terminal success entry. extra merges over the step's
// base metadata for this entry only.
func (s *Step) Success(extra map[string]any) {
	s.finish(StatusSuccess, nil, extra)
}

// Fail emits the terminal failed entry carrying the error.
func (s *Step) Fail(err error, extra map[string]any) {
	s.finish(StatusFailed, err, extra)
}

// Skip emits a skipped terminal entry, for steps abandoned after starting.
func (s *Step) Skip(extra map[string]any) {
	s.finish(StatusSkipped, nil, extra)
}

func (s *Step) finish(status string, err error, extra map[string]any) {
	if s.done {
		return
	}
	s.done = true

	elapsed := float64(s.logger.now().Sub(s.startedAt)) / float64(time.Millisecond)
	merged := make(map[string]any, len(s.metadata)+len(extra))
	for k, v := range s.metadata {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	s.logger.emit(s.correlationID, s.name, status, &elapsed, err, merged)
}

// automationSink mirrors entries into the automation_logs collection off
// the hot path.
type automationSink struct {
	col     store.Collection
	ch      chan map[string]any
	logger  core.Logger
	wg      sync.WaitGroup
	dropped atomic.Int64
	onDrop  func()

	closeOnce sync.Once
}

func newAutomationSink(col store.Collection, logger core.Logger) *automationSink {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &automationSink{
		col:    col,
		ch:     make(chan map[string]any, 256),
		logger: logger,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *automationSink) enqueue(entry map[string]any) {
	select {
	case s.ch <- entry:
	default:
		s.dropped.Add(1)
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

func (s *automationSink) run() {
	defer s.wg.Done()
	for entry := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := s.col.Create(ctx, entry); err != nil {
			s.logger.Warn("Automation log mirror failed", map[string]interface{}{
				"error":     err.Error(),
				"step_name": entry["step_name"],
			})
		}
		cancel()
	}
}

// Close drains pending entries, bounded by ctx.
func (s *automationSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.ch) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
