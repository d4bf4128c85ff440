// Package state 实现流和会话的生命周期状态机
//
// 状态机是纯数据结构，不加锁：所有迁移由会话执行体串行驱动，
// 收发事件全序到达是其正确性前提。
package state

import (
	"errors"
	"fmt"
)

// ============================================================================
//                              流状态
// ============================================================================

// StreamState 流生命周期状态
type StreamState uint8

const (
	// StreamIdle 初始状态
	StreamIdle StreamState = iota

	// StreamSynSent 已发送 SYN，等待确认
	StreamSynSent

	// StreamSynReceived 已收到对端 SYN，尚未确认
	StreamSynReceived

	// StreamEstablished 双向可用
	StreamEstablished

	// StreamLocalHalfClosed 本端已发 FIN，仍可接收
	StreamLocalHalfClosed

	// StreamRemoteHalfClosed 对端已发 FIN，仍可发送
	StreamRemoteHalfClosed

	// StreamClosed 双向关闭（终态）
	StreamClosed

	// StreamReset 被强制关闭（终态）
	StreamReset
)

// String 返回状态的可读名称
func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "Idle"
	case StreamSynSent:
		return "SynSent"
	case StreamSynReceived:
		return "SynReceived"
	case StreamEstablished:
		return "Established"
	case StreamLocalHalfClosed:
		return "LocalHalfClosed"
	case StreamRemoteHalfClosed:
		return "RemoteHalfClosed"
	case StreamClosed:
		return "Closed"
	case StreamReset:
		return "Reset"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Terminal 返回是否为终态
func (s StreamState) Terminal() bool {
	return s == StreamClosed || s == StreamReset
}

// ============================================================================
//                              事件
// ============================================================================

// Event 触发流状态迁移的事件
type Event uint8

const (
	// EventSYN 流打开
	EventSYN Event = iota

	// EventACK 流打开确认
	EventACK

	// EventData 数据
	EventData

	// EventWindowUpdate 窗口更新
	EventWindowUpdate

	// EventFIN 半关闭
	EventFIN

	// EventRST 强制关闭
	EventRST
)

// String 返回事件的可读名称
func (e Event) String() string {
	switch e {
	case EventSYN:
		return "SYN"
	case EventACK:
		return "ACK"
	case EventData:
		return "Data"
	case EventWindowUpdate:
		return "WindowUpdate"
	case EventFIN:
		return "FIN"
	case EventRST:
		return "RST"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(e))
	}
}

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrInvalidSendTransition 本端试图执行非法发送迁移（本地缺陷）
	ErrInvalidSendTransition = errors.New("invalid send transition")

	// ErrInvalidRecvTransition 对端触发非法接收迁移（协议违规）
	ErrInvalidRecvTransition = errors.New("invalid recv transition")
)

// ============================================================================
//                              StreamMachine 流状态机
// ============================================================================

// StreamMachine 单条流的状态机
type StreamMachine struct {
	cur StreamState
}

// NewStreamMachine 创建处于 Idle 的流状态机
func NewStreamMachine() *StreamMachine {
	return &StreamMachine{cur: StreamIdle}
}

// State 返回当前状态
func (m *StreamMachine) State() StreamState {
	return m.cur
}

// Send 校验并执行发送迁移
//
// 非法迁移返回 ErrInvalidSendTransition，状态不变。
// 发送方向的违规意味着本地代码缺陷而不是对端行为。
func (m *StreamMachine) Send(ev Event) (StreamState, error) {
	next, ok := m.sendNext(ev)
	if !ok {
		return m.cur, fmt.Errorf("%w: %s in state %s", ErrInvalidSendTransition, ev, m.cur)
	}
	m.cur = next
	return next, nil
}

func (m *StreamMachine) sendNext(ev Event) (StreamState, bool) {
	// RST 可从任意非终态发出
	if ev == EventRST {
		if m.cur.Terminal() {
			return m.cur, false
		}
		return StreamReset, true
	}

	switch m.cur {
	case StreamIdle:
		if ev == EventSYN {
			return StreamSynSent, true
		}
	case StreamSynReceived:
		if ev == EventACK {
			return StreamEstablished, true
		}
		// 确认之前允许预先授信
		if ev == EventWindowUpdate {
			return StreamSynReceived, true
		}
	case StreamEstablished:
		switch ev {
		case EventData, EventWindowUpdate:
			return StreamEstablished, true
		case EventFIN:
			return StreamLocalHalfClosed, true
		}
	case StreamLocalHalfClosed:
		// 本端写侧已关，但仍在读：窗口回填必须继续
		if ev == EventWindowUpdate {
			return StreamLocalHalfClosed, true
		}
	case StreamRemoteHalfClosed:
		switch ev {
		case EventData, EventWindowUpdate:
			return StreamRemoteHalfClosed, true
		case EventFIN:
			return StreamClosed, true
		}
	}
	return m.cur, false
}

// Recv 校验并执行接收迁移
//
// 非法迁移返回 ErrInvalidRecvTransition，状态不变。
// 接收方向的违规归咎于对端，会话应当就此失败。
func (m *StreamMachine) Recv(ev Event) (StreamState, error) {
	next, ok := m.recvNext(ev)
	if !ok {
		return m.cur, fmt.Errorf("%w: %s in state %s", ErrInvalidRecvTransition, ev, m.cur)
	}
	m.cur = next
	return next, nil
}

func (m *StreamMachine) recvNext(ev Event) (StreamState, bool) {
	if ev == EventRST {
		if m.cur.Terminal() {
			return m.cur, false
		}
		return StreamReset, true
	}

	switch m.cur {
	case StreamIdle:
		if ev == EventSYN {
			return StreamSynReceived, true
		}
	case StreamSynSent:
		if ev == EventACK {
			return StreamEstablished, true
		}
	case StreamEstablished:
		switch ev {
		case EventData, EventWindowUpdate:
			return StreamEstablished, true
		case EventFIN:
			return StreamRemoteHalfClosed, true
		}
	case StreamLocalHalfClosed:
		switch ev {
		// 半关闭时对端的数据可能仍在途
		case EventData, EventWindowUpdate:
			return StreamLocalHalfClosed, true
		case EventFIN:
			return StreamClosed, true
		}
	case StreamRemoteHalfClosed:
		// 对端已 FIN，只允许继续授信
		if ev == EventWindowUpdate {
			return StreamRemoteHalfClosed, true
		}
	}
	return m.cur, false
}
