package inventory

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSerial(t *testing.T) *InventorySerial {
	t.Helper()
	serial, err := NewInventorySerial(
		uuid.New(), "SN-001", uuid.New(), uuid.New(), nil, decimal.NewFromInt(500),
	)
	require.NoError(t, err)
	return serial
}

func TestNewInventorySerial(t *testing.T) {
	t.Run("valid serial starts available and distributor-owned", func(t *testing.T) {
		serial := mustSerial(t)
		assert.Equal(t, SerialStatusAvailable, serial.Status)
		assert.Equal(t, OwnerTypeDistributor, serial.CurrentOwnerType)
		assert.Nil(t, serial.CurrentOwnerID)
		assert.Equal(t, 1, serial.Version)
	})

	t.Run("rejects empty serial number", func(t *testing.T) {
		_, err := NewInventorySerial(uuid.New(), "", uuid.New(), uuid.New(), nil, decimal.Zero)
		assert.Error(t, err)
	})

	t.Run("rejects negative cost", func(t *testing.T) {
		_, err := NewInventorySerial(uuid.New(), "SN-001", uuid.New(), uuid.New(), nil, decimal.NewFromInt(-1))
		assert.Error(t, err)
	})
}

func TestSerialStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    SerialStatus
		to      SerialStatus
		allowed bool
	}{
		{SerialStatusAvailable, SerialStatusSold, true},
		{SerialStatusAvailable, SerialStatusReserved, true},
		{SerialStatusAvailable, SerialStatusDamaged, true},
		{SerialStatusAvailable, SerialStatusReturned, false},
		{SerialStatusReserved, SerialStatusSold, true},
		{SerialStatusReserved, SerialStatusAvailable, true},
		{SerialStatusReserved, SerialStatusDamaged, false},
		{SerialStatusSold, SerialStatusReturned, true},
		{SerialStatusSold, SerialStatusAvailable, false},
		{SerialStatusSold, SerialStatusSold, false},
		{SerialStatusReturned, SerialStatusAvailable, true},
		{SerialStatusReturned, SerialStatusDamaged, true},
		{SerialStatusReturned, SerialStatusSold, false},
		{SerialStatusDamaged, SerialStatusAvailable, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestInventorySerial_TransitionTo(t *testing.T) {
	t.Run("sale records owner, billing and sold date", func(t *testing.T) {
		serial := mustSerial(t)
		customerID := uuid.New()
		billingID := uuid.New()
		soldAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

		err := serial.TransitionTo(SerialStatusSold, TransitionContext{
			OwnerType:  OwnerTypeCustomer,
			OwnerID:    &customerID,
			BillingRef: &billingID,
			CustomerID: &customerID,
			SoldDate:   &soldAt,
		})

		require.NoError(t, err)
		assert.Equal(t, SerialStatusSold, serial.Status)
		assert.Equal(t, OwnerTypeCustomer, serial.CurrentOwnerType)
		assert.Equal(t, &billingID, serial.BillingRef)
		assert.Equal(t, &soldAt, serial.SoldDate)
		assert.Equal(t, 2, serial.Version)
	})

	t.Run("sale defaults owner type and sold date", func(t *testing.T) {
		serial := mustSerial(t)

		err := serial.TransitionTo(SerialStatusSold, TransitionContext{})

		require.NoError(t, err)
		assert.Equal(t, OwnerTypeCustomer, serial.CurrentOwnerType)
		require.NotNil(t, serial.SoldDate)
	})

	t.Run("sold unit cannot be sold again", func(t *testing.T) {
		serial := mustSerial(t)
		require.NoError(t, serial.TransitionTo(SerialStatusSold, TransitionContext{}))

		err := serial.TransitionTo(SerialStatusSold, TransitionContext{})

		var transitionErr *InvalidStateTransitionError
		require.ErrorAs(t, err, &transitionErr)
		assert.Equal(t, SerialStatusSold, transitionErr.From)
		assert.Equal(t, SerialStatusSold, transitionErr.To)
		assert.Equal(t, "SN-001", transitionErr.SerialNumber)
	})

	t.Run("failed transition mutates nothing", func(t *testing.T) {
		serial := mustSerial(t)
		require.NoError(t, serial.TransitionTo(SerialStatusSold, TransitionContext{}))
		before := *serial

		err := serial.TransitionTo(SerialStatusReserved, TransitionContext{})

		require.Error(t, err)
		assert.Equal(t, before.Status, serial.Status)
		assert.Equal(t, before.Version, serial.Version)
	})

	t.Run("return clears billing and restores distributor ownership", func(t *testing.T) {
		serial := mustSerial(t)
		billingID := uuid.New()
		require.NoError(t, serial.TransitionTo(SerialStatusSold, TransitionContext{BillingRef: &billingID}))

		err := serial.TransitionTo(SerialStatusReturned, TransitionContext{})

		require.NoError(t, err)
		assert.Equal(t, OwnerTypeDistributor, serial.CurrentOwnerType)
		assert.Nil(t, serial.BillingRef)
		assert.Nil(t, serial.CustomerRef)
	})

	t.Run("back to available resets all sale fields", func(t *testing.T) {
		serial := mustSerial(t)
		require.NoError(t, serial.TransitionTo(SerialStatusSold, TransitionContext{}))
		require.NoError(t, serial.TransitionTo(SerialStatusReturned, TransitionContext{}))

		err := serial.TransitionTo(SerialStatusAvailable, TransitionContext{})

		require.NoError(t, err)
		assert.True(t, serial.IsAvailable())
		assert.Nil(t, serial.SoldDate)
		assert.Nil(t, serial.CurrentOwnerID)
	})

	t.Run("damaged is terminal", func(t *testing.T) {
		serial := mustSerial(t)
		require.NoError(t, serial.TransitionTo(SerialStatusDamaged, TransitionContext{}))

		err := serial.TransitionTo(SerialStatusAvailable, TransitionContext{})
		assert.Error(t, err)
	})

	t.Run("each transition raises a status changed event", func(t *testing.T) {
		serial := mustSerial(t)
		require.NoError(t, serial.TransitionTo(SerialStatusReserved, TransitionContext{}))
		require.NoError(t, serial.TransitionTo(SerialStatusSold, TransitionContext{}))

		events := serial.GetDomainEvents()
		require.Len(t, events, 2)
		first, ok := events[0].(*SerialStatusChangedEvent)
		require.True(t, ok)
		assert.Equal(t, SerialStatusAvailable, first.FromStatus)
		assert.Equal(t, SerialStatusReserved, first.ToStatus)
		assert.Equal(t, EventTypeSerialStatusChanged, first.EventType())
	})
}
