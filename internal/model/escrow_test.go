package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	terminal := []string{EscrowStateCompleted, EscrowStateClaimedOnExpire, EscrowStateRefunded}

	// 待交付可以转向任一终态
	for _, to := range terminal {
		assert.True(t, CanTransitionTo(EscrowStateAwaitingDelivery, to), "AWAITING_DELIVERY -> %s", to)
	}

	// 终态之间不可转移，也不可回到待交付
	for _, from := range terminal {
		for _, to := range append(terminal, EscrowStateAwaitingDelivery) {
			assert.False(t, CanTransitionTo(from, to), "%s -> %s", from, to)
		}
	}

	// 未知状态一律拒绝
	assert.False(t, CanTransitionTo("UNKNOWN", EscrowStateCompleted))
	assert.False(t, CanTransitionTo(EscrowStateAwaitingDelivery, "UNKNOWN"))
}

func TestIsTerminalState(t *testing.T) {
	assert.False(t, IsTerminalState(EscrowStateAwaitingDelivery))
	assert.True(t, IsTerminalState(EscrowStateCompleted))
	assert.True(t, IsTerminalState(EscrowStateClaimedOnExpire))
	assert.True(t, IsTerminalState(EscrowStateRefunded))
	assert.False(t, IsTerminalState(""))
}
