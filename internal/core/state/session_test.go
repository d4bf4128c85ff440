package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSession_Lifecycle 测试会话状态迁移
func TestSession_Lifecycle(t *testing.T) {
	m := NewSessionMachine()
	assert.Equal(t, SessionIdle, m.State())
	assert.False(t, m.CanOpenStream())
	assert.True(t, m.CanAcceptStream())

	m.OnOpened()
	assert.Equal(t, SessionOpen, m.State())
	assert.True(t, m.CanOpenStream())

	m.OnGoAwaySent()
	assert.Equal(t, SessionGoAwaySent, m.State())
	assert.False(t, m.CanOpenStream())
	assert.False(t, m.CanAcceptStream())

	m.OnClosed()
	assert.Equal(t, SessionClosed, m.State())
	assert.True(t, m.Closed())
}

// TestSession_GoAwayReceived 测试收到对端 GoAway
func TestSession_GoAwayReceived(t *testing.T) {
	m := NewSessionMachine()
	m.OnOpened()

	m.OnGoAwayReceived()
	assert.Equal(t, SessionGoAwayReceived, m.State())
	assert.False(t, m.CanOpenStream())

	// 终态之后 GoAway 不再改变状态
	m.OnClosed()
	m.OnGoAwayReceived()
	assert.Equal(t, SessionClosed, m.State())
}

// TestSession_OpenedIdempotent 测试重复握手完成无副作用
func TestSession_OpenedIdempotent(t *testing.T) {
	m := NewSessionMachine()
	m.OnOpened()
	m.OnOpened()
	assert.Equal(t, SessionOpen, m.State())

	m.OnGoAwaySent()
	m.OnOpened()
	assert.Equal(t, SessionGoAwaySent, m.State())
}
