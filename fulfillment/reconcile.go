package fulfillment

import (
	"context"
	"time"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/metrics"
	"github.com/voyasim/simflow/orders"
	"github.com/voyasim/simflow/telemetry"
)

// claimKey marks an order as taken by a sweep so overlapping instances
// skip it.
const claimKey = "reconcile_claim"

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Resumed int      `json:"resumed"`
	Errors  []string `json:"errors,omitempty"`
}

// Reconciler resumes orders a deadline timeout left in
// fulfillment_started.
type Reconciler struct {
	repo     *orders.Repository
	svc      *Service
	configs  func() []core.ProviderConfig
	budget   time.Duration
	interval time.Duration
	steps    *telemetry.StepLogger
	metrics  *metrics.Metrics
	logger   core.Logger
	now      func() time.Time
}

// NewReconciler builds the sweep. configs supplies the current cascade
// list on every pass so provider toggles take effect without restart.
func NewReconciler(repo *orders.Repository, svc *Service, configs func() []core.ProviderConfig, budget, interval time.Duration, steps *telemetry.StepLogger, m *metrics.Metrics, logger core.Logger) *Reconciler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if steps == nil {
		steps = telemetry.NewStepLogger()
	}
	return &Reconciler{
		repo:     repo,
		svc:      svc,
		configs:  configs,
		budget:   budget,
		interval: interval,
		steps:    steps,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps on the configured cadence until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep resumes every order stuck in fulfillment_started for longer than
// one deadline budget. A fresh reconcile claim on the order means another
// instance already has it.
func (r *Reconciler) Sweep(ctx context.Context) SweepReport {
	var report SweepReport

	cutoff := r.now().Add(-r.budget)
	stuck, err := r.repo.StuckSince(ctx, core.StatusFulfillmentStarted, cutoff)
	if err != nil {
		r.logger.Error("Reconciliation listing failed", map[string]interface{}{
			"error": err.Error(),
		})
		report.Errors = append(report.Errors, err.Error())
		return report
	}

	for _, order := range stuck {
		if r.claimed(order) {
			continue
		}

		step := r.steps.Step(order.CorrelationID, telemetry.StepReconcileSweep, map[string]any{
			"order_id": order.ID,
		})

		if err := r.claim(ctx, order); err != nil {
			step.Fail(err, nil)
			report.Errors = append(report.Errors, err.Error())
			continue
		}

		res := r.svc.Fulfill(ctx, order, r.configs())
		if res.Err != nil {
			step.Fail(res.Err, map[string]any{"final_state": string(res.FinalState)})
			report.Errors = append(report.Errors, res.Err.Error())
			continue
		}

		step.Success(map[string]any{"final_state": string(res.FinalState)})
		r.metrics.ReconcileResumed.Inc()
		report.Resumed++
	}
	return report
}

// claimed reports whether another sweep took the order within the last
// budget window.
func (r *Reconciler) claimed(order *core.Order) bool {
	raw, ok := order.Metadata[claimKey].(string)
	if !ok {
		return false
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return r.now().Sub(at) < r.budget
}

func (r *Reconciler) claim(ctx context.Context, order *core.Order) error {
	merged := make(map[string]any, len(order.Metadata)+1)
	for k, v := range order.Metadata {
		merged[k] = v
	}
	merged[claimKey] = r.now().UTC().Format(time.RFC3339)
	_, err := r.repo.Patch(ctx, order.ID, map[string]any{"metadata": merged})
	return err
}
