package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store/memstore"
)

func seedOrder() *core.Order {
	return &core.Order{
		OrderNumber:   "2026082012345",
		CorrelationID: "11111111-1111-4111-8111-111111111111",
		CustomerEmail: "minji@example.com",
		ProductID:     "japan-7d-1g",
		ProviderSKU:   "EC-JP-7D",
		Quantity:      1,
		Amount:        15000,
		Currency:      "KRW",
		Status:        core.StatusPaymentReceived,
		SalesChannel:  "smartstore",
		Metadata:      map[string]any{"external_order_id": "2026082012345"},
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := NewRepository(memstore.New())

	created, err := repo.Create(context.Background(), seedOrder())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := repo.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026082012345", got.OrderNumber)
	assert.Equal(t, core.StatusPaymentReceived, got.Status)
	assert.Equal(t, 15000.0, got.Amount)
	assert.Equal(t, "2026082012345", got.Metadata["external_order_id"])

	byNumber, err := repo.GetByNumber(context.Background(), "2026082012345")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byNumber.ID)
}

func TestRepositoryGetMissing(t *testing.T) {
	repo := NewRepository(memstore.New())

	_, err := repo.Get(context.Background(), "nope")
	require.ErrorIs(t, err, core.ErrOrderNotFound)

	_, err = repo.GetByNumber(context.Background(), "nope")
	require.ErrorIs(t, err, core.ErrOrderNotFound)
}

func TestPersistStatusMergesMetadata(t *testing.T) {
	repo := NewRepository(memstore.New())
	created, err := repo.Create(context.Background(), seedOrder())
	require.NoError(t, err)

	err = repo.PersistStatus(context.Background(), created.ID, core.StatusProviderConfirmed, map[string]any{
		"iccid":         "89012345678901234567",
		"provider_used": "esimcard",
		"attempt_count": 2,
	})
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProviderConfirmed, got.Status)
	assert.Equal(t, "89012345678901234567", got.ICCID, "artifact fields land on the order itself")
	assert.Equal(t, "esimcard", got.ProviderUsed)
	assert.Equal(t, "2026082012345", got.Metadata["external_order_id"], "existing metadata survives")
	assert.EqualValues(t, 2, got.Metadata["attempt_count"])
}

func TestMachineOverRepository(t *testing.T) {
	repo := NewRepository(memstore.New())
	created, err := repo.Create(context.Background(), seedOrder())
	require.NoError(t, err)

	machine := repo.Machine(nil)
	got, err := machine.Transition(context.Background(), created.ID, core.StatusFulfillmentStarted, nil)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFulfillmentStarted, got)

	_, err = machine.Transition(context.Background(), created.ID, core.StatusDelivered, nil)
	require.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestByStatusAndStuckSince(t *testing.T) {
	st := memstore.New()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })
	repo := NewRepository(st)

	stale := seedOrder()
	stale.OrderNumber = "OLD-1"
	stale.Status = core.StatusFulfillmentStarted
	_, err := repo.Create(context.Background(), stale)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh := seedOrder()
	fresh.OrderNumber = "NEW-1"
	fresh.Status = core.StatusFulfillmentStarted
	_, err = repo.Create(context.Background(), fresh)
	require.NoError(t, err)

	inFlight, err := repo.ByStatus(context.Background(), core.StatusFulfillmentStarted, 0)
	require.NoError(t, err)
	assert.Len(t, inFlight, 2)

	stuck, err := repo.StuckSince(context.Background(), core.StatusFulfillmentStarted, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "OLD-1", stuck[0].OrderNumber)
}

func TestMappingRepository(t *testing.T) {
	st := memstore.New()
	_, err := st.Collection("product_mappings").Create(context.Background(), map[string]any{
		"external_id":  "NV-1001",
		"product_id":   "japan-7d-1g",
		"provider_sku": "EC-JP-7D",
		"active":       true,
	})
	require.NoError(t, err)
	_, err = st.Collection("product_mappings").Create(context.Background(), map[string]any{
		"external_id": "NV-2002",
		"product_id":  "korea-30d",
		"active":      false,
	})
	require.NoError(t, err)

	mapper := NewMappingRepository(st)

	mapping, err := mapper.Map(context.Background(), "NV-1001")
	require.NoError(t, err)
	assert.Equal(t, "EC-JP-7D", mapping.ProviderSKU)

	_, err = mapper.Map(context.Background(), "NV-2002")
	require.ErrorIs(t, err, core.ErrMappingNotFound, "inactive mappings do not resolve")

	_, err = mapper.Map(context.Background(), "NV-MISSING")
	require.ErrorIs(t, err, core.ErrMappingNotFound)
}
