package yamux

import (
	"errors"

	"github.com/dep2p/go-yamux/internal/core/frame"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 协议层错误（会话就此失败）
	// ────────────────────────────────────────────────────────────────────────

	// ErrInvalidPacketFormat 帧不符合协议规则
	ErrInvalidPacketFormat = frame.ErrInvalidFormat

	// ErrUnsupportedVersion 对端协议版本不为 0
	ErrUnsupportedVersion = frame.ErrUnsupportedVersion

	// ErrProtocolViolation 对端破坏状态机或路由规则
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrFlowControlViolation 对端超发数据或窗口增量溢出
	ErrFlowControlViolation = errors.New("flow control violation")

	// ────────────────────────────────────────────────────────────────────────
	// 流级错误（仅影响单条流）
	// ────────────────────────────────────────────────────────────────────────

	// ErrStreamRejected 流打开被本端或对端拒绝
	ErrStreamRejected = errors.New("stream rejected")

	// ErrStreamClosed 流已关闭
	ErrStreamClosed = errors.New("stream closed")

	// ErrStreamReset 流被强制关闭
	ErrStreamReset = errors.New("stream reset")

	// ErrStreamsExhausted 流 ID 空间耗尽
	ErrStreamsExhausted = errors.New("stream ids exhausted")

	// ErrAcceptBacklogFull 未被接受的入站流超过积压上限
	ErrAcceptBacklogFull = errors.New("accept backlog full")

	// ErrTimeout 读写超过截止时间
	ErrTimeout = errors.New("i/o deadline exceeded")

	// ────────────────────────────────────────────────────────────────────────
	// 会话级错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrSessionShutdown 会话已关闭（底层传输断开或本端关闭）
	ErrSessionShutdown = errors.New("session shutdown")

	// ErrSessionNotOpen 会话打开握手尚未完成
	ErrSessionNotOpen = errors.New("session not open")

	// ErrRemoteGoAway 对端已宣告终止会话
	ErrRemoteGoAway = errors.New("remote end is not accepting connections")

	// ErrLocalGoAway 本端已宣告终止会话
	ErrLocalGoAway = errors.New("local end is not accepting connections")

	// ErrKeepAliveTimeout 心跳连续超时
	ErrKeepAliveTimeout = errors.New("keepalive timeout")
)
