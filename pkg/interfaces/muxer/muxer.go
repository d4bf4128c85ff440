// Package muxer 定义多路复用接口
//
// 多路复用模块负责在单个连接上创建多个独立的流，包括：
// - 流的创建和管理
// - 流量控制
// - 生命周期管理
package muxer

import (
	"context"
	"io"
	"time"
)

// ============================================================================
//                              Muxer 接口
// ============================================================================

// Muxer 多路复用器接口
//
// Muxer 在单个底层连接上提供多个独立的逻辑流。
// 每个流都是双向的，支持独立的流量控制。
type Muxer interface {
	// NewStream 创建新流
	NewStream(ctx context.Context) (Stream, error)

	// AcceptStream 接受新流
	// 阻塞直到有新流到达或连接关闭
	AcceptStream() (Stream, error)

	// Close 关闭多路复用器
	// 所有流都会被关闭
	Close() error

	// IsClosed 检查是否已关闭
	IsClosed() bool

	// NumStreams 返回当前流数量
	NumStreams() int

	// Ping 测量往返时延
	Ping() (time.Duration, error)
}

// ============================================================================
//                              Stream 接口
// ============================================================================

// Stream 多路复用流接口
//
// Stream 是 Muxer 上的逻辑流，支持全双工通信。
type Stream interface {
	io.ReadWriteCloser

	// ID 返回流 ID
	// 在单个 Muxer 中唯一
	ID() uint32

	// SetDeadline 设置读写超时
	SetDeadline(t time.Time) error

	// SetReadDeadline 设置读超时
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline 设置写超时
	SetWriteDeadline(t time.Time) error

	// CloseRead 关闭读端
	// 之后的读取立即返回错误，排队数据被丢弃
	CloseRead() error

	// CloseWrite 关闭写端
	// 发送 FIN，对端会收到 EOF
	CloseWrite() error

	// Reset 重置流
	// 立即关闭流，发送 RST
	Reset() error
}

// ============================================================================
//                              MuxerFactory 接口
// ============================================================================

// MuxerFactory 多路复用器工厂接口
//
// 用于从底层连接创建多路复用器。
type MuxerFactory interface {
	// NewMuxer 从连接创建多路复用器
	// isServer 表示是否是监听方
	NewMuxer(conn io.ReadWriteCloser, isServer bool) (Muxer, error)

	// Protocol 返回协议标识
	// 如 "/yamux/1.0.0"
	Protocol() string
}

// ============================================================================
//                              Acceptor
// ============================================================================

// AcceptDecision 入站流裁决结果
type AcceptDecision uint8

const (
	// Accept 接受流
	Accept AcceptDecision = iota

	// Reject 拒绝流（对端收到 RST）
	Reject
)

// Acceptor 入站流裁决回调
//
// 对端发来 SYN 时调用，每个流 ID 至多一次。
// 回调在会话执行体上运行，必须立即返回，不得阻塞。
type Acceptor func(stream Stream) AcceptDecision
