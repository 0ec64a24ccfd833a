package submission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	sub, err := New("0xAb5801a7D398351b8bE11C439e05C5b3259aec9B", 0.001)
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, Pending, sub.Status)
	assert.Equal(t, 0.001, sub.PaymentAmount)
	assert.NotZero(t, sub.CreatedAt)
	assert.Zero(t, sub.SlotNumber)
	assert.Zero(t, sub.ConfirmedAt)

	require.NoError(t, sub.Validate())
}

func TestNewRejectsBadPaymentTerms(t *testing.T) {
	_, err := New("", 0.001)
	assert.Error(t, err)

	_, err = New("0xAb5801a7D398351b8bE11C439e05C5b3259aec9B", 0)
	assert.Error(t, err)

	_, err = New("0xAb5801a7D398351b8bE11C439e05C5b3259aec9B", -1)
	assert.Error(t, err)
}

func TestValidateStatusInvariants(t *testing.T) {
	base := func() *Submission {
		sub, err := New("0xAb5801a7D398351b8bE11C439e05C5b3259aec9B", 0.001)
		require.NoError(t, err)
		return sub
	}

	t.Run("pending must not carry a slot", func(t *testing.T) {
		sub := base()
		sub.SlotNumber = 3
		assert.Error(t, sub.Validate())
	})

	t.Run("confirmed requires slot and timestamp", func(t *testing.T) {
		sub := base()
		sub.Status = Confirmed
		assert.Error(t, sub.Validate())

		sub.SlotNumber = 1
		sub.ConfirmedAt = sub.CreatedAt + 1
		assert.NoError(t, sub.Validate())
	})

	t.Run("expired must not carry a slot", func(t *testing.T) {
		sub := base()
		sub.Status = Expired
		assert.NoError(t, sub.Validate())

		sub.SlotNumber = 1
		assert.Error(t, sub.Validate())
	})

	t.Run("unknown status", func(t *testing.T) {
		sub := base()
		sub.Status = Status("limbo")
		assert.Error(t, sub.Validate())
	})
}

func TestCountersAvailableSlots(t *testing.T) {
	c := &Counters{TotalCapacity: 10, UsedSlots: 4}
	assert.Equal(t, int64(6), c.AvailableSlots())

	c.UsedSlots = 10
	assert.Equal(t, int64(0), c.AvailableSlots())

	// Over-used should clamp rather than go negative.
	c.UsedSlots = 12
	assert.Equal(t, int64(0), c.AvailableSlots())
}
