// Package inquiry implements the customer-inquiry workflow: syncing
// conversations in from the sales channels, the agent-facing list and
// reply operations, and the support metrics rollup.
package inquiry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/voyasim/simflow/channels"
	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/metrics"
	"github.com/voyasim/simflow/store"
	"github.com/voyasim/simflow/telemetry"
)

// Page is one List result window.
type Page struct {
	Items  []*core.Inquiry `json:"items"`
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

// UpdatePatch carries the operator-editable inquiry fields. Nil means
// leave unchanged.
type UpdatePatch struct {
	Status        *core.InquiryStatus   `json:"status,omitempty"`
	Priority      *core.InquiryPriority `json:"priority,omitempty"`
	AssignedTo    *string               `json:"assigned_to,omitempty"`
	LinkedOrderID *string               `json:"linked_order_id,omitempty"`
}

// ReplyInput is one outbound agent reply. When TemplateID is set the
// content is rendered from the template registry and Content is ignored.
type ReplyInput struct {
	Content    string            `json:"content"`
	TemplateID string            `json:"template_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
	AgentName  string            `json:"agent_name,omitempty"`
}

// SyncReport summarizes one SyncFromAllChannels pass.
type SyncReport struct {
	Synced int      `json:"synced"`
	Errors []string `json:"errors,omitempty"`
}

// Stats is the support metrics rollup.
type Stats struct {
	Open                    int            `json:"open"`
	Resolved                int            `json:"resolved"`
	AvgFirstResponseMinutes int            `json:"avg_first_response_minutes"`
	ByChannel               map[string]int `json:"by_channel"`
	ByStatus                map[string]int `json:"by_status"`
}

// Service owns the inquiry workflow over the repository and the channel
// adapters.
type Service struct {
	repo      *Repository
	adapters  map[core.InquiryChannel]core.ChannelAdapter
	templates *Templates
	steps     *telemetry.StepLogger
	metrics   *metrics.Metrics
	logger    core.Logger
	now       func() time.Time
}

// NewService wires the inquiry service. Nil templates fall back to the
// built-in set.
func NewService(repo *Repository, adapters map[core.InquiryChannel]core.ChannelAdapter, templates *Templates, steps *telemetry.StepLogger, m *metrics.Metrics, logger core.Logger) *Service {
	if templates == nil {
		templates = DefaultTemplates()
	}
	if steps == nil {
		steps = telemetry.NewStepLogger()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Service{
		repo:      repo,
		adapters:  adapters,
		templates: templates,
		steps:     steps,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// List returns a filtered page of inquiries.
func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Offset: f.Offset, Limit: f.Limit}, nil
}

// Get fetches one inquiry.
func (s *Service) Get(ctx context.Context, id string) (*core.Inquiry, error) {
	return s.repo.Get(ctx, id)
}

// GetByExternal resolves an inquiry by its channel-unique key.
func (s *Service) GetByExternal(ctx context.Context, channel core.InquiryChannel, externalID string) (*core.Inquiry, error) {
	return s.repo.ByChannelAndExternalID(ctx, channel, externalID)
}

// Create inserts a new inquiry from a channel fetch and seeds the
// conversation with the inbound customer message.
func (s *Service) Create(ctx context.Context, ext core.ExternalInquiry) (*core.Inquiry, error) {
	inq, err := s.repo.Create(ctx, &core.Inquiry{
		Channel:       ext.Channel,
		ExternalID:    ext.ExternalID,
		Status:        core.InquiryNew,
		Priority:      core.PriorityNormal,
		Subject:       ext.Subject,
		Content:       ext.Content,
		CustomerName:  ext.CustomerName,
		CustomerEmail: ext.CustomerEmail,
		CustomerID:    ext.CustomerID,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.CreateMessage(ctx, &core.InquiryMessage{
		InquiryID:  inq.ID,
		Direction:  core.DirectionInbound,
		SenderType: core.SenderCustomer,
		SenderName: ext.CustomerName,
		Content:    ext.Content,
	}); err != nil {
		s.logger.Error("Seeding inbound message failed", map[string]interface{}{
			"inquiry_id": inq.ID,
			"error":      err.Error(),
		})
	}
	return inq, nil
}

// Update applies an operator patch. Setting status to resolved stamps
// resolved_at.
func (s *Service) Update(ctx context.Context, id string, patch UpdatePatch) (*core.Inquiry, error) {
	fields := map[string]any{}
	if patch.Status != nil {
		fields["status"] = string(*patch.Status)
		if *patch.Status == core.InquiryResolved {
			fields["resolved_at"] = store.FormatTime(s.now())
		}
	}
	if patch.Priority != nil {
		fields["priority"] = string(*patch.Priority)
	}
	if patch.AssignedTo != nil {
		fields["assigned_to"] = *patch.AssignedTo
	}
	if patch.LinkedOrderID != nil {
		fields["linked_order_id"] = *patch.LinkedOrderID
	}
	if len(fields) == 0 {
		return s.repo.Get(ctx, id)
	}
	return s.repo.Patch(ctx, id, fields)
}

// GetMessages lists the conversation oldest first.
func (s *Service) GetMessages(ctx context.Context, inquiryID string) ([]*core.InquiryMessage, error) {
	return s.repo.MessagesByInquiry(ctx, inquiryID)
}

// SendReply dispatches an agent reply through the inquiry's channel,
// appends the outbound message, and moves a new inquiry to in_progress.
// first_response_at is stamped on the first reply only.
func (s *Service) SendReply(ctx context.Context, id string, in ReplyInput) (*core.ReplyResult, error) {
	inq, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	content := in.Content
	if in.TemplateID != "" {
		content, err = s.templates.Render(in.TemplateID, in.Variables)
		if err != nil {
			return nil, err
		}
	}
	if content == "" {
		return nil, &core.PlatformError{
			Op:      "inquiry.SendReply",
			Kind:    core.KindValidation,
			Message: "reply content is empty",
		}
	}

	adapter, ok := s.adapters[inq.Channel]
	if !ok || !adapter.IsEnabled() {
		return nil, fmt.Errorf("channel %s: %w", inq.Channel, core.ErrNotConfigured)
	}

	step := s.steps.Step(uuid.NewString(), telemetry.StepReplyDispatch, map[string]any{
		"inquiry_id": id,
		"channel":    string(inq.Channel),
	})

	target := inq.ExternalID
	if inq.Channel == core.ChannelEmail && inq.CustomerEmail != "" {
		target = inq.CustomerEmail
	}

	result, err := adapter.SendReply(ctx, target, content)
	if err != nil {
		step.Fail(err, nil)
		s.metrics.RepliesSent.WithLabelValues(string(inq.Channel), metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("sending reply on %s: %w", inq.Channel, err)
	}
	if result == nil {
		result = &core.ReplyResult{Success: false, DeliveryStatus: core.DeliveryFailed, Error: "adapter returned no result"}
	}

	outcome := metrics.OutcomeSuccess
	if !result.Success {
		outcome = metrics.OutcomeFailure
	}
	s.metrics.RepliesSent.WithLabelValues(string(inq.Channel), outcome).Inc()

	if _, err := s.repo.CreateMessage(ctx, &core.InquiryMessage{
		InquiryID:         id,
		Direction:         core.DirectionOutbound,
		SenderType:        core.SenderAgent,
		SenderName:        in.AgentName,
		Content:           content,
		TemplateID:        in.TemplateID,
		DeliveryStatus:    result.DeliveryStatus,
		ExternalMessageID: result.ExternalMessageID,
	}); err != nil {
		s.logger.Error("Persisting outbound message failed", map[string]interface{}{
			"inquiry_id": id,
			"error":      err.Error(),
		})
	}

	fields := map[string]any{}
	if inq.Status == core.InquiryNew {
		fields["status"] = string(core.InquiryInProgress)
	}
	if inq.FirstResponseAt == nil {
		fields["first_response_at"] = store.FormatTime(s.now())
	}
	if len(fields) > 0 {
		if _, err := s.repo.Patch(ctx, id, fields); err != nil {
			s.logger.Error("Updating inquiry after reply failed", map[string]interface{}{
				"inquiry_id": id,
				"error":      err.Error(),
			})
		}
	}

	if result.Success {
		step.Success(map[string]any{"delivery_status": string(result.DeliveryStatus)})
	} else {
		step.Fail(fmt.Errorf("delivery failed: %s", result.Error), nil)
	}
	return result, nil
}

// SyncFromAllChannels pulls unanswered inquiries from every enabled
// adapter and upserts them by (channel, external_id). Per-channel
// failures are collected, not fatal.
func (s *Service) SyncFromAllChannels(ctx context.Context) *SyncReport {
	report := &SyncReport{}

	for _, channel := range sortedChannels(s.adapters) {
		adapter := s.adapters[channel]
		if !adapter.IsEnabled() {
			continue
		}

		step := s.steps.Step(uuid.NewString(), telemetry.StepInquirySync, map[string]any{
			"channel": string(channel),
		})

		externals, err := adapter.FetchInquiries(ctx, core.FetchOptions{IncludeReplied: false})
		if err != nil {
			step.Fail(err, nil)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", channel, err.Error()))
			continue
		}

		synced := 0
		for _, ext := range externals {
			if _, err := s.repo.ByChannelAndExternalID(ctx, channel, ext.ExternalID); err == nil {
				continue
			}
			if _, err := s.Create(ctx, ext); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %s", channel, ext.ExternalID, err.Error()))
				continue
			}
			synced++
			s.metrics.InquiriesSynced.WithLabelValues(string(channel)).Inc()
		}

		report.Synced += synced
		step.Success(map[string]any{"synced": synced})
	}
	return report
}

// Metrics aggregates the support rollup over the whole collection.
func (s *Service) Metrics(ctx context.Context) (*Stats, error) {
	all, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByChannel: make(map[string]int),
		ByStatus:  make(map[string]int),
	}

	var responseTotal time.Duration
	responded := 0
	for _, inq := range all {
		stats.ByChannel[string(inq.Channel)]++
		stats.ByStatus[string(inq.Status)]++
		switch inq.Status {
		case core.InquiryNew, core.InquiryInProgress:
			stats.Open++
		case core.InquiryResolved:
			stats.Resolved++
		}
		if inq.FirstResponseAt != nil {
			responseTotal += inq.FirstResponseAt.Sub(inq.Created)
			responded++
		}
	}
	if responded > 0 {
		avg := responseTotal.Minutes() / float64(responded)
		stats.AvgFirstResponseMinutes = int(math.Round(avg))
	}
	return stats, nil
}

// ChannelHealth probes every adapter.
func (s *Service) ChannelHealth(ctx context.Context) map[core.InquiryChannel]core.ChannelHealth {
	return channels.Health(ctx, s.adapters)
}

func sortedChannels(adapters map[core.InquiryChannel]core.ChannelAdapter) []core.InquiryChannel {
	out := make([]core.InquiryChannel, 0, len(adapters))
	for ch := range adapters {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
