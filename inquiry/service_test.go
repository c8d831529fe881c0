package inquiry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store/memstore"
)

// stubChannel scripts FetchInquiries and SendReply.
type stubChannel struct {
	core.InquiryOnly

	slug      string
	enabled   bool
	inquiries []core.ExternalInquiry
	fetchErr  error
	reply     *core.ReplyResult
	replyErr  error
	replies   []string
	healthy   bool
}

func (s *stubChannel) Slug() string        { return s.slug }
func (s *stubChannel) DisplayName() string { return s.slug }
func (s *stubChannel) IsEnabled() bool     { return s.enabled }

func (s *stubChannel) HealthCheck(ctx context.Context) (bool, string) {
	if s.healthy {
		return true, ""
	}
	return false, "probe failed"
}

func (s *stubChannel) FetchInquiries(ctx context.Context, opts core.FetchOptions) ([]core.ExternalInquiry, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.inquiries, nil
}

func (s *stubChannel) FetchMessages(ctx context.Context, externalID string) ([]core.ExternalMessage, error) {
	return nil, core.ErrNotSupported
}

func (s *stubChannel) SendReply(ctx context.Context, externalID, content string) (*core.ReplyResult, error) {
	s.replies = append(s.replies, content)
	if s.replyErr != nil {
		return nil, s.replyErr
	}
	return s.reply, nil
}

func newTestService(t *testing.T, adapters map[core.InquiryChannel]core.ChannelAdapter) (*Service, *Repository) {
	t.Helper()
	repo := NewRepository(memstore.New())
	return NewService(repo, adapters, nil, nil, nil, nil), repo
}

func sampleExternal(id string) core.ExternalInquiry {
	return core.ExternalInquiry{
		Channel:      core.ChannelSmartStore,
		ExternalID:   id,
		Subject:      "My eSIM did not arrive",
		Content:      "I paid an hour ago and have no QR code yet.",
		CustomerName: "customer-" + id,
	}
}

func TestCreateSeedsInboundMessage(t *testing.T) {
	svc, _ := newTestService(t, nil)

	inq, err := svc.Create(context.Background(), sampleExternal("q-1"))
	require.NoError(t, err)
	assert.Equal(t, core.InquiryNew, inq.Status)
	assert.Equal(t, core.PriorityNormal, inq.Priority)

	msgs, err := svc.GetMessages(context.Background(), inq.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, core.SenderCustomer, msgs[0].SenderType)
	assert.Equal(t, inq.Content, msgs[0].Content)
}

func TestSendReplyFirstResponse(t *testing.T) {
	ch := &stubChannel{
		slug:    "smartstore",
		enabled: true,
		reply: &core.ReplyResult{
			Success:           true,
			DeliveryStatus:    core.DeliveryDelivered,
			ExternalMessageID: "m1",
		},
	}
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: ch,
	})

	inq, err := svc.Create(context.Background(), sampleExternal("q-reply"))
	require.NoError(t, err)
	require.Nil(t, inq.FirstResponseAt)

	result, err := svc.SendReply(context.Background(), inq.ID, ReplyInput{Content: "hi"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"hi"}, ch.replies)

	updated, err := svc.Get(context.Background(), inq.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InquiryInProgress, updated.Status)
	require.NotNil(t, updated.FirstResponseAt)
	assert.WithinDuration(t, time.Now(), *updated.FirstResponseAt, 5*time.Second)

	msgs, err := svc.GetMessages(context.Background(), inq.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	out := msgs[1]
	assert.Equal(t, core.DirectionOutbound, out.Direction)
	assert.Equal(t, core.SenderAgent, out.SenderType)
	assert.Equal(t, core.DeliveryDelivered, out.DeliveryStatus)
	assert.Equal(t, "m1", out.ExternalMessageID)

	stats, err := svc.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 0, stats.AvgFirstResponseMinutes, "replied within the same minute")
}

func TestSendReplyKeepsFirstResponseTimestamp(t *testing.T) {
	ch := &stubChannel{
		slug:    "smartstore",
		enabled: true,
		reply:   &core.ReplyResult{Success: true, DeliveryStatus: core.DeliverySent},
	}
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: ch,
	})

	inq, err := svc.Create(context.Background(), sampleExternal("q-twice"))
	require.NoError(t, err)

	_, err = svc.SendReply(context.Background(), inq.ID, ReplyInput{Content: "first"})
	require.NoError(t, err)
	after, err := svc.Get(context.Background(), inq.ID)
	require.NoError(t, err)
	first := *after.FirstResponseAt

	_, err = svc.SendReply(context.Background(), inq.ID, ReplyInput{Content: "second"})
	require.NoError(t, err)
	again, err := svc.Get(context.Background(), inq.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *again.FirstResponseAt)
}

func TestSendReplyRendersTemplate(t *testing.T) {
	ch := &stubChannel{
		slug:    "smartstore",
		enabled: true,
		reply:   &core.ReplyResult{Success: true, DeliveryStatus: core.DeliverySent},
	}
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: ch,
	})

	inq, err := svc.Create(context.Background(), sampleExternal("q-tpl"))
	require.NoError(t, err)

	_, err = svc.SendReply(context.Background(), inq.ID, ReplyInput{
		TemplateID: "esim-resend",
		Variables: map[string]string{
			"customer_name": "Kim",
			"order_number":  "2026082000001",
			"email":         "t@example.com",
		},
	})
	require.NoError(t, err)
	require.Len(t, ch.replies, 1)
	assert.Contains(t, ch.replies[0], "Hello Kim")
	assert.Contains(t, ch.replies[0], "2026082000001")
	assert.NotContains(t, ch.replies[0], "{{")

	msgs, err := svc.GetMessages(context.Background(), inq.ID)
	require.NoError(t, err)
	assert.Equal(t, "esim-resend", msgs[1].TemplateID)
}

func TestSendReplyUnknownTemplate(t *testing.T) {
	ch := &stubChannel{slug: "smartstore", enabled: true}
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: ch,
	})

	inq, err := svc.Create(context.Background(), sampleExternal("q-badtpl"))
	require.NoError(t, err)

	_, err = svc.SendReply(context.Background(), inq.ID, ReplyInput{TemplateID: "nope"})
	require.ErrorIs(t, err, core.ErrTemplateNotFound)
	assert.Empty(t, ch.replies, "no dispatch on template failure")
}

func TestSendReplyDisabledChannel(t *testing.T) {
	ch := &stubChannel{slug: "smartstore", enabled: false}
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: ch,
	})

	inq, err := svc.Create(context.Background(), sampleExternal("q-off"))
	require.NoError(t, err)

	_, err = svc.SendReply(context.Background(), inq.ID, ReplyInput{Content: "hi"})
	assert.ErrorIs(t, err, core.ErrNotConfigured)
}

func TestSendReplyDeliveryFailureIsRecorded(t *testing.T) {
	ch := &stubChannel{
		slug:    "smartstore",
		enabled: true,
		reply:   &core.ReplyResult{Success: false, DeliveryStatus: core.DeliveryFailed, Error: "gateway 502"},
	}
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: ch,
	})

	inq, err := svc.Create(context.Background(), sampleExternal("q-fail"))
	require.NoError(t, err)

	result, err := svc.SendReply(context.Background(), inq.ID, ReplyInput{Content: "hi"})
	require.NoError(t, err, "delivery failure is a result, not a transport error")
	assert.False(t, result.Success)

	msgs, err := svc.GetMessages(context.Background(), inq.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.DeliveryFailed, msgs[1].DeliveryStatus)
}

func TestSyncFromAllChannelsUpserts(t *testing.T) {
	smartstore := &stubChannel{
		slug:    "smartstore",
		enabled: true,
		inquiries: []core.ExternalInquiry{
			sampleExternal("q-1"),
			sampleExternal("q-2"),
		},
	}
	kakao := &stubChannel{slug: "kakao", enabled: false}
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: smartstore,
		core.ChannelKakao:      kakao,
	})

	report := svc.SyncFromAllChannels(context.Background())
	assert.Equal(t, 2, report.Synced)
	assert.Empty(t, report.Errors)

	// Second pass sees the same externals and inserts nothing new.
	report = svc.SyncFromAllChannels(context.Background())
	assert.Equal(t, 0, report.Synced)

	got, err := svc.GetByExternal(context.Background(), core.ChannelSmartStore, "q-1")
	require.NoError(t, err)
	assert.Equal(t, "My eSIM did not arrive", got.Subject)
}

func TestSyncCollectsChannelErrors(t *testing.T) {
	broken := &stubChannel{
		slug:     "talktalk",
		enabled:  true,
		fetchErr: core.ErrTokenRefresh,
	}
	working := &stubChannel{
		slug:      "smartstore",
		enabled:   true,
		inquiries: []core.ExternalInquiry{sampleExternal("q-ok")},
	}
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelTalkTalk:   broken,
		core.ChannelSmartStore: working,
	})

	report := svc.SyncFromAllChannels(context.Background())
	assert.Equal(t, 1, report.Synced, "healthy channel still syncs")
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "talktalk")
}

func TestListFilters(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	for _, ext := range []core.ExternalInquiry{
		{Channel: core.ChannelSmartStore, ExternalID: "a", Subject: "refund please", Content: "x", CustomerName: "Lee"},
		{Channel: core.ChannelKakao, ExternalID: "b", Subject: "activation issue", Content: "QR will not scan", CustomerName: "Park"},
		{Channel: core.ChannelSmartStore, ExternalID: "c", Subject: "other", Content: "refund status?", CustomerName: "Choi"},
	} {
		_, err := svc.Create(ctx, ext)
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, ListFilter{Channel: core.ChannelSmartStore})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = svc.List(ctx, ListFilter{Search: "refund"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total, "search spans subject and content")

	page, err = svc.List(ctx, ListFilter{Search: "Park"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "b", page.Items[0].ExternalID)

	page, err = svc.List(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 1)

	page, err = svc.List(ctx, ListFilter{
		Statuses: []core.InquiryStatus{core.InquiryNew},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestUpdateResolvedStampsResolvedAt(t *testing.T) {
	svc, _ := newTestService(t, nil)

	inq, err := svc.Create(context.Background(), sampleExternal("q-res"))
	require.NoError(t, err)

	resolved := core.InquiryResolved
	updated, err := svc.Update(context.Background(), inq.ID, UpdatePatch{Status: &resolved})
	require.NoError(t, err)
	assert.Equal(t, core.InquiryResolved, updated.Status)
	require.NotNil(t, updated.ResolvedAt)

	agent := "jihye"
	updated, err = svc.Update(context.Background(), inq.ID, UpdatePatch{AssignedTo: &agent})
	require.NoError(t, err)
	assert.Equal(t, "jihye", updated.AssignedTo)
	assert.NotNil(t, updated.ResolvedAt, "assignment does not clear resolution")
}

func TestMetricsRollup(t *testing.T) {
	ch := &stubChannel{
		slug:    "smartstore",
		enabled: true,
		reply:   &core.ReplyResult{Success: true, DeliveryStatus: core.DeliverySent},
	}
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: ch,
	})
	ctx := context.Background()

	a, err := svc.Create(ctx, sampleExternal("m-1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, core.ExternalInquiry{Channel: core.ChannelKakao, ExternalID: "m-2", Subject: "s", Content: "c"})
	require.NoError(t, err)

	_, err = svc.SendReply(ctx, a.ID, ReplyInput{Content: "on it"})
	require.NoError(t, err)
	resolved := core.InquiryResolved
	_, err = svc.Update(ctx, a.ID, UpdatePatch{Status: &resolved})
	require.NoError(t, err)

	stats, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.ByChannel["smartstore"])
	assert.Equal(t, 1, stats.ByChannel["kakao"])
	assert.Equal(t, 1, stats.ByStatus["new"])
	assert.Equal(t, 1, stats.ByStatus["resolved"])
}

func TestChannelHealthReport(t *testing.T) {
	svc, _ := newTestService(t, map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: &stubChannel{slug: "smartstore", enabled: true, healthy: true},
		core.ChannelKakao:      &stubChannel{slug: "kakao", enabled: false},
	})

	health := svc.ChannelHealth(context.Background())
	require.Len(t, health, 2)
	assert.True(t, health[core.ChannelSmartStore].Enabled)
	assert.True(t, health[core.ChannelSmartStore].Healthy)
	assert.False(t, health[core.ChannelKakao].Enabled)
}
