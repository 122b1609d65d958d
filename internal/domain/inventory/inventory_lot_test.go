package inventory

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInventoryLot(t *testing.T) {
	t.Run("valid lot starts active and passed", func(t *testing.T) {
		lot, err := NewInventoryLot(
			uuid.New(), "LOT-001", uuid.New(), uuid.New(),
			datePtr(2024, 1, 1), datePtr(2026, 1, 1), decimal.NewFromInt(10),
		)
		require.NoError(t, err)
		assert.Equal(t, LotStatusActive, lot.Status)
		assert.Equal(t, QualityStatusPassed, lot.QualityStatus)
	})

	t.Run("rejects expiry before manufacture", func(t *testing.T) {
		_, err := NewInventoryLot(
			uuid.New(), "LOT-001", uuid.New(), uuid.New(),
			datePtr(2025, 1, 1), datePtr(2024, 1, 1), decimal.Zero,
		)
		assert.Error(t, err)
	})

	t.Run("rejects empty lot number", func(t *testing.T) {
		_, err := NewInventoryLot(uuid.New(), "", uuid.New(), uuid.New(), nil, nil, decimal.Zero)
		assert.Error(t, err)
	})
}

func TestInventoryLot_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	itemID := uuid.New()

	t.Run("lot without expiry never expires", func(t *testing.T) {
		lot := mustLot(t, "NO-EXP", itemID, nil)
		assert.False(t, lot.IsExpired(now))
		assert.False(t, lot.ExpiresWithin(now, 365*24*time.Hour))
		assert.Equal(t, -1, lot.DaysUntilExpiry(now))
	})

	t.Run("past expiry", func(t *testing.T) {
		lot := mustLot(t, "OLD", itemID, datePtr(2024, 12, 1))
		assert.True(t, lot.IsExpired(now))
	})

	t.Run("lot expiring today stays usable through the day", func(t *testing.T) {
		lot := mustLot(t, "TODAY", itemID, datePtr(2025, 1, 1))
		assert.False(t, lot.IsExpired(time.Date(2025, 1, 1, 23, 30, 0, 0, time.UTC)))
		assert.True(t, lot.IsUsable(time.Date(2025, 1, 1, 23, 30, 0, 0, time.UTC)))
		assert.True(t, lot.IsExpired(time.Date(2025, 1, 2, 0, 30, 0, 0, time.UTC)))
	})

	t.Run("expires within window", func(t *testing.T) {
		lot := mustLot(t, "SOON", itemID, datePtr(2025, 1, 20))
		assert.False(t, lot.IsExpired(now))
		assert.True(t, lot.ExpiresWithin(now, 30*24*time.Hour))
		assert.False(t, lot.ExpiresWithin(now, 10*24*time.Hour))
		assert.Equal(t, 19, lot.DaysUntilExpiry(now))
	})
}

func TestInventoryLot_IsUsable(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	itemID := uuid.New()

	t.Run("active passed unexpired lot is usable", func(t *testing.T) {
		lot := mustLot(t, "GOOD", itemID, datePtr(2026, 1, 1))
		assert.True(t, lot.IsUsable(now))
	})

	t.Run("blocked lot is not usable until unblocked", func(t *testing.T) {
		lot := mustLot(t, "B", itemID, datePtr(2026, 1, 1))
		lot.Block()
		assert.False(t, lot.IsUsable(now))
		lot.Unblock()
		assert.True(t, lot.IsUsable(now))
	})

	t.Run("pending quality lot is not usable", func(t *testing.T) {
		lot := mustLot(t, "Q", itemID, datePtr(2026, 1, 1))
		require.NoError(t, lot.SetQualityStatus(QualityStatusPending))
		assert.False(t, lot.IsUsable(now))
	})

	t.Run("expired lot is not usable", func(t *testing.T) {
		lot := mustLot(t, "E", itemID, datePtr(2024, 1, 1))
		assert.False(t, lot.IsUsable(now))
	})
}

func TestTrackingMode(t *testing.T) {
	assert.Equal(t, TrackingModeBatchAndSerial, TrackingModeFromFlags(true, true))
	assert.Equal(t, TrackingModeBatch, TrackingModeFromFlags(true, false))
	assert.Equal(t, TrackingModeSerial, TrackingModeFromFlags(false, true))
	assert.Equal(t, TrackingModeNone, TrackingModeFromFlags(false, false))

	assert.True(t, TrackingModeSerial.RequiresSerial())
	assert.True(t, TrackingModeBatchAndSerial.RequiresSerial())
	assert.False(t, TrackingModeBatch.RequiresSerial())

	assert.True(t, TrackingModeBatch.UsesBatches())
	assert.True(t, TrackingModeBatchAndSerial.UsesBatches())
	assert.False(t, TrackingModeSerial.UsesBatches())

	assert.False(t, TrackingMode("FOO").IsValid())
}
