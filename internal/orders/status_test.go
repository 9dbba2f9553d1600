package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_Legal(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusAccepted))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	assert.True(t, CanTransition(StatusAccepted, StatusOutForDelivery))
	assert.True(t, CanTransition(StatusAccepted, StatusDelivered))
	assert.True(t, CanTransition(StatusOutForDelivery, StatusDelivered))
}

func TestCanTransition_Rejected(t *testing.T) {
	assert.False(t, CanTransition(StatusPending, StatusDelivered))
	assert.False(t, CanTransition(StatusPending, StatusOutForDelivery))
	assert.False(t, CanTransition(StatusAccepted, StatusCancelled))
	assert.False(t, CanTransition(StatusDelivered, StatusAccepted))
	assert.False(t, CanTransition(StatusCancelled, StatusPending))
	assert.False(t, CanTransition(Status("shipped"), StatusDelivered))
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("out_for_delivery")
	assert.True(t, ok)
	assert.Equal(t, StatusOutForDelivery, s)

	_, ok = ParseStatus("OUT_FOR_DELIVERY")
	assert.False(t, ok)
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusAccepted.Terminal())
}
