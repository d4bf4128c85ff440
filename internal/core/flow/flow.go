// Package flow 实现流级别的信用流控
//
// 每条流各持有一对控制器：
//   - Outbound 跟踪对端授予的发送信用和本地待发字节
//   - Inbound 跟踪本地通告的接收窗口和已消费字节
//
// 控制器本身不加锁，所有变更由会话执行体串行驱动。
package flow

import (
	"errors"
	"fmt"
	"math"
)

// DefaultWindow 流的默认初始窗口
const DefaultWindow uint32 = 256 * 1024

var (
	// ErrWindowOverflow 窗口增量使信用越过 uint32 上限
	ErrWindowOverflow = errors.New("window increment overflows")

	// ErrWindowExceeded 对端发送的数据超过其持有的信用
	ErrWindowExceeded = errors.New("receive window exceeded")

	// ErrWindowUnderflow 本地发送超过剩余信用（内部不变量被破坏）
	ErrWindowUnderflow = errors.New("send window underflow")
)

// ============================================================================
//                              Outbound 出站控制器
// ============================================================================

// Outbound 出站流控：对端授予多少信用，本地还欠多少待发字节
type Outbound struct {
	free     uint32
	buffered uint64
}

// NewOutbound 创建出站控制器，initial 为对端的初始授信
func NewOutbound(initial uint32) *Outbound {
	return &Outbound{free: initial}
}

// Free 返回剩余发送信用
func (o *Outbound) Free() uint32 {
	return o.free
}

// Buffered 返回已接收但尚未发出的字节数
func (o *Outbound) Buffered() uint64 {
	return o.buffered
}

// IsWritable 返回是否还能接收新的写入
//
// 信用大于积压时可写；相等或更少时调用方应当挂起。
func (o *Outbound) IsWritable() bool {
	return uint64(o.free) > o.buffered
}

// Sendable 返回当前一次可以发出的最大字节数
func (o *Outbound) Sendable() uint32 {
	if o.buffered < uint64(o.free) {
		return uint32(o.buffered)
	}
	return o.free
}

// OnBuffer 记账 n 字节进入发送缓冲
func (o *Outbound) OnBuffer(n int) {
	o.buffered += uint64(n)
}

// OnUnbuffer 撤销 n 字节未发出的缓冲（写取消路径）
func (o *Outbound) OnUnbuffer(n int) {
	if uint64(n) > o.buffered {
		o.buffered = 0
		return
	}
	o.buffered -= uint64(n)
}

// OnWrote 记账 n 字节已发出：扣减积压和信用
func (o *Outbound) OnWrote(n int) error {
	if uint64(n) > o.buffered || uint32(n) > o.free {
		return fmt.Errorf("%w: wrote %d, free %d, buffered %d", ErrWindowUnderflow, n, o.free, o.buffered)
	}
	o.buffered -= uint64(n)
	o.free -= uint32(n)
	return nil
}

// OnWindowIncrement 对端授予 delta 字节新信用
//
// 溢出是对端的协议违规，会话应当就此失败。
func (o *Outbound) OnWindowIncrement(delta uint32) error {
	if o.free > math.MaxUint32-delta {
		return fmt.Errorf("%w: free %d + delta %d", ErrWindowOverflow, o.free, delta)
	}
	o.free += delta
	return nil
}

// ============================================================================
//                              Inbound 入站控制器
// ============================================================================

// Inbound 入站流控：对端还可以发多少，本地消费了多少未回填
type Inbound struct {
	initial   uint32
	remaining uint32 // 对端当前持有的信用
	consumed  uint32 // 上次通告以来本地消费的字节
	threshold uint32
}

// NewInbound 创建入站控制器
//
// 回填阈值取初始窗口的一半：消费过半才发 WindowUpdate，
// 避免小增量帧刷屏。
func NewInbound(initial uint32) *Inbound {
	return &Inbound{
		initial:   initial,
		remaining: initial,
		threshold: initial / 2,
	}
}

// Initial 返回初始窗口
func (i *Inbound) Initial() uint32 {
	return i.initial
}

// Remaining 返回对端当前持有的信用
func (i *Inbound) Remaining() uint32 {
	return i.remaining
}

// OnData 对端送达 n 字节，扣减其信用
//
// 超发是对端的协议违规。
func (i *Inbound) OnData(n int) error {
	if uint32(n) > i.remaining || uint64(n) > math.MaxUint32 {
		return fmt.Errorf("%w: got %d bytes, remaining %d", ErrWindowExceeded, n, i.remaining)
	}
	i.remaining -= uint32(n)
	return nil
}

// Consume 本地应用消费了 n 字节
//
// 累计消费到达阈值时返回应通告的增量和 true，并重置计数；
// 否则返回 0 和 false。
func (i *Inbound) Consume(n int) (uint32, bool) {
	i.consumed += uint32(n)
	if i.consumed < i.threshold {
		return 0, false
	}
	delta := i.consumed
	i.consumed = 0
	i.remaining += delta
	return delta, true
}
