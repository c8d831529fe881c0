package fulfillment

import (
	"context"
	"time"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/metrics"
	"github.com/voyasim/simflow/orders"
	"github.com/voyasim/simflow/providers/manual"
	"github.com/voyasim/simflow/telemetry"
)

// Result aggregates one fulfillment run end to end.
type Result struct {
	FinalState               core.OrderStatus `json:"final_state"`
	Success                  bool             `json:"success"`
	ProviderUsed             string           `json:"provider_used,omitempty"`
	ESIMData                 *core.ESIMData   `json:"esim_data,omitempty"`
	EmailSent                bool             `json:"email_sent"`
	EmailMessageID           string           `json:"email_message_id,omitempty"`
	PendingManualFulfillment bool             `json:"pending_manual_fulfillment"`
	ManualNotificationSent   bool             `json:"manual_notification_sent"`
	Attempts                 []Attempt        `json:"attempts"`
	FailoverEvents           []FailoverEvent  `json:"failover_events,omitempty"`
	TotalDurationMs          int64            `json:"total_duration_ms"`
	Err                      error            `json:"-"`
}

// Service runs the fulfillment pipeline: state transitions around the
// cascade, email delivery, and the manual-fulfillment fallback.
type Service struct {
	machine    *orders.StateMachine
	cascade    *Cascade
	normalizer *orders.Normalizer
	emailer    core.EmailSender
	manual     *manual.Adapter
	notifier   core.FailureNotifier
	steps      *telemetry.StepLogger
	metrics    *metrics.Metrics
	logger     core.Logger
	now        func() time.Time
}

// ServiceOptions wires the service's collaborators.
type ServiceOptions struct {
	Machine    *orders.StateMachine
	Cascade    *Cascade
	Normalizer *orders.Normalizer
	Emailer    core.EmailSender
	Manual     *manual.Adapter
	Notifier   core.FailureNotifier
	Steps      *telemetry.StepLogger
	Metrics    *metrics.Metrics
	Logger     core.Logger
}

// NewService builds the fulfillment service.
func NewService(opts ServiceOptions) *Service {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Steps == nil {
		opts.Steps = telemetry.NewStepLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = &core.NoOpFailureNotifier{}
	}
	return &Service{
		machine:    opts.Machine,
		cascade:    opts.Cascade,
		normalizer: opts.Normalizer,
		emailer:    opts.Emailer,
		manual:     opts.Manual,
		notifier:   opts.Notifier,
		steps:      opts.Steps,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// Fulfill runs the whole pipeline for one order. State-persistence errors
// surface as Success=false with the underlying error; the order is left in
// whatever state the last successful transition recorded.
func (s *Service) Fulfill(ctx context.Context, order *core.Order, configs []core.ProviderConfig) *Result {
	started := s.now()
	res := &Result{FinalState: order.Status}
	defer func() {
		res.TotalDurationMs = s.now().Sub(started).Milliseconds()
		s.metrics.FulfillmentDuration.WithLabelValues(s.outcomeLabel(res)).Observe(float64(res.TotalDurationMs) / 1000)
		s.metrics.FulfillmentsTotal.WithLabelValues(s.providerLabel(res), s.outcomeLabel(res)).Inc()
	}()

	if s.normalizer != nil {
		validation := s.steps.Step(order.CorrelationID, telemetry.StepOrderValidation, map[string]any{
			"order_id": order.ID,
		})
		if err := s.normalizer.ValidateForFulfillment(order); err != nil {
			validation.Fail(err, nil)
			res.Err = err
			return res
		}
		validation.Success(nil)
	}

	state, err := s.transition(ctx, order, core.StatusFulfillmentStarted, nil)
	if err != nil {
		res.FinalState = state
		res.Err = err
		return res
	}
	res.FinalState = state

	outcome := s.cascade.Run(ctx, order, configs)
	res.Attempts = outcome.Attempts
	res.FailoverEvents = outcome.FailoverEvents

	if outcome.Result != nil && outcome.Result.Status == core.PurchaseOK {
		return s.complete(ctx, order, outcome, res)
	}
	return s.exhausted(ctx, order, outcome, res)
}

// complete persists the artifact, sends the delivery email, and walks the
// order to delivered. Email failure is reported but never fails the order.
func (s *Service) complete(ctx context.Context, order *core.Order, outcome *CascadeOutcome, res *Result) *Result {
	esim := outcome.Result.ESIM
	res.ProviderUsed = outcome.Provider
	res.ESIMData = esim

	state, err := s.transition(ctx, order, core.StatusProviderConfirmed, map[string]any{
		"qr_code_url":     esim.QRCodeURL,
		"iccid":           esim.ICCID,
		"activation_code": esim.ActivationCode,
		"provider_used":   outcome.Provider,
	})
	if err != nil {
		res.FinalState = state
		res.Err = err
		return res
	}
	res.FinalState = state
	order.QRCodeURL = esim.QRCodeURL
	order.ICCID = esim.ICCID
	order.ActivationCode = esim.ActivationCode
	order.ProviderUsed = outcome.Provider

	emailStep := s.steps.Step(order.CorrelationID, telemetry.StepEmailDelivery, map[string]any{
		"order_id":       order.ID,
		"customer_email": order.CustomerEmail,
	})
	messageID, emailErr := s.sendEmail(ctx, order, esim)
	if emailErr != nil {
		emailStep.Fail(emailErr, nil)
		s.metrics.EmailsSent.WithLabelValues("failure").Inc()
		s.logger.Error("Delivery email failed, order still delivered", map[string]interface{}{
			"order_id":       order.ID,
			"correlation_id": order.CorrelationID,
			"error":          emailErr.Error(),
		})

		state, err = s.transition(ctx, order, core.StatusDelivered, map[string]any{
			"email_error": emailErr.Error(),
		})
		if err != nil {
			res.FinalState = state
			res.Err = err
			return res
		}
		res.FinalState = state
		res.Success = true
		return res
	}
	emailStep.Success(map[string]any{"message_id": messageID})
	s.metrics.EmailsSent.WithLabelValues("success").Inc()
	res.EmailSent = true
	res.EmailMessageID = messageID

	state, err = s.transition(ctx, order, core.StatusEmailSent, map[string]any{
		"email_message_id": messageID,
	})
	if err != nil {
		res.FinalState = state
		res.Err = err
		return res
	}
	res.FinalState = state

	state, err = s.transition(ctx, order, core.StatusDelivered, nil)
	if err != nil {
		res.FinalState = state
		res.Err = err
		return res
	}
	res.FinalState = state
	res.Success = true
	return res
}

// exhausted handles cascade exhaustion: the manual-fulfillment terminal
// when Discord is configured, provider_failed otherwise.
func (s *Service) exhausted(ctx context.Context, order *core.Order, outcome *CascadeOutcome, res *Result) *Result {
	reason := outcome.FailureSummary()

	if s.manual != nil && s.manual.IsEnabled() {
		manualStep := s.steps.Step(order.CorrelationID, telemetry.StepManualFallback, map[string]any{
			"order_id": order.ID,
		})
		primed := s.manual.WithContext(order.OrderNumber, outcome.AttemptedProviders, reason)
		manualResult := primed.Purchase(ctx, &core.PurchaseRequest{
			OrderID:       order.ID,
			CorrelationID: order.CorrelationID,
			CustomerEmail: order.CustomerEmail,
			ProductID:     order.ProductID,
			ProviderSKU:   order.ProviderSKU,
			Quantity:      order.Quantity,
		})
		res.Attempts = append(res.Attempts, Attempt{
			Provider: primed.Slug(),
			Success:  manualResult.Status == core.PurchasePendingManual,
		})

		if manualResult.Status == core.PurchasePendingManual {
			manualStep.Success(nil)
			state, err := s.transition(ctx, order, core.StatusPendingManual, map[string]any{
				"pending_manual_fulfillment":           true,
				"manual_fulfillment_notification_sent": manualResult.NotificationSent,
				"attempted_providers":                  outcome.AttemptedProviders,
				"failure_reasons":                      outcome.FailureReasons,
				"error_message":                        reason,
			})
			if err != nil {
				res.FinalState = state
				res.Err = err
				return res
			}
			res.FinalState = state
			res.PendingManualFulfillment = true
			res.ManualNotificationSent = manualResult.NotificationSent
			return res
		}
		manualStep.Fail(nil, map[string]any{"error_message": manualResult.ErrorMessage})
	}

	state, err := s.transition(ctx, order, core.StatusProviderFailed, map[string]any{
		"attempted_providers": outcome.AttemptedProviders,
		"failure_reasons":     outcome.FailureReasons,
		"error_message":       reason,
	})
	if err != nil {
		res.FinalState = state
		res.Err = err
		return res
	}
	res.FinalState = state

	if err := s.notifier.NotifyFulfillmentFailure(ctx, order, reason); err != nil {
		s.logger.Error("Failure notification failed", map[string]interface{}{
			"order_id":       order.ID,
			"correlation_id": order.CorrelationID,
			"error":          err.Error(),
		})
	}
	return res
}

func (s *Service) sendEmail(ctx context.Context, order *core.Order, esim *core.ESIMData) (string, error) {
	if s.emailer == nil {
		return "", &core.PlatformError{
			Op:      "fulfillment.email",
			Kind:    core.KindValidation,
			Message: "no email sender configured",
		}
	}
	return s.emailer.SendESIMDelivery(ctx, order, esim)
}

// transition applies one edge with a step log around it.
func (s *Service) transition(ctx context.Context, order *core.Order, target core.OrderStatus, metadata map[string]any) (core.OrderStatus, error) {
	step := s.steps.Step(order.CorrelationID, telemetry.StepStatusTransition, map[string]any{
		"order_id": order.ID,
		"target":   string(target),
	})
	state, err := s.machine.Transition(ctx, order.ID, target, metadata)
	if err != nil {
		step.Fail(err, nil)
		return state, err
	}
	step.Success(nil)
	order.Status = state
	return state, nil
}

func (s *Service) outcomeLabel(res *Result) string {
	switch {
	case res.PendingManualFulfillment:
		return metrics.OutcomeManual
	case res.Success:
		return metrics.OutcomeSuccess
	default:
		return metrics.OutcomeFailure
	}
}

func (s *Service) providerLabel(res *Result) string {
	if res.ProviderUsed != "" {
		return res.ProviderUsed
	}
	return "none"
}
