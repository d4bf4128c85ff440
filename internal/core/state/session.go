package state

import (
	"fmt"
)

// ============================================================================
//                              会话状态
// ============================================================================

// SessionState 会话生命周期状态
type SessionState uint8

const (
	// SessionIdle 初始状态，会话打开握手未完成
	SessionIdle SessionState = iota

	// SessionOpen 握手完成，可以开流
	SessionOpen

	// SessionGoAwaySent 本端已宣告终止，存量流可继续排空
	SessionGoAwaySent

	// SessionGoAwayReceived 对端已宣告终止
	SessionGoAwayReceived

	// SessionClosed 底层传输已断开（终态）
	SessionClosed
)

// String 返回状态的可读名称
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "Idle"
	case SessionOpen:
		return "Open"
	case SessionGoAwaySent:
		return "GoAwaySent"
	case SessionGoAwayReceived:
		return "GoAwayReceived"
	case SessionClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// ============================================================================
//                              SessionMachine 会话状态机
// ============================================================================

// SessionMachine 会话级状态机
type SessionMachine struct {
	cur SessionState
}

// NewSessionMachine 创建处于 Idle 的会话状态机
func NewSessionMachine() *SessionMachine {
	return &SessionMachine{cur: SessionIdle}
}

// State 返回当前状态
func (m *SessionMachine) State() SessionState {
	return m.cur
}

// OnOpened 会话打开握手完成
func (m *SessionMachine) OnOpened() {
	if m.cur == SessionIdle {
		m.cur = SessionOpen
	}
}

// OnGoAwaySent 本端发出 GoAway
func (m *SessionMachine) OnGoAwaySent() {
	if m.cur == SessionIdle || m.cur == SessionOpen {
		m.cur = SessionGoAwaySent
	}
}

// OnGoAwayReceived 收到对端 GoAway
func (m *SessionMachine) OnGoAwayReceived() {
	if m.cur != SessionClosed {
		m.cur = SessionGoAwayReceived
	}
}

// OnClosed 底层传输断开，进入终态
func (m *SessionMachine) OnClosed() {
	m.cur = SessionClosed
}

// CanOpenStream 返回当前是否允许打开新流
//
// GoAway 之后（无论哪个方向）不再开新流，存量流继续排空。
func (m *SessionMachine) CanOpenStream() bool {
	return m.cur == SessionOpen
}

// CanAcceptStream 返回当前是否允许接受对端新流
func (m *SessionMachine) CanAcceptStream() bool {
	return m.cur == SessionOpen || m.cur == SessionIdle
}

// Closed 返回会话是否已进入终态
func (m *SessionMachine) Closed() bool {
	return m.cur == SessionClosed
}
