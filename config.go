package yamux

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-yamux/internal/core/flow"
	"github.com/dep2p/go-yamux/pkg/interfaces/muxer"
)

// 默认配置值
const (
	// DefaultInitialStreamWindow 流的默认初始接收窗口
	DefaultInitialStreamWindow = flow.DefaultWindow

	// DefaultMaxFramePayload 单个 Data 帧的默认负载上限
	DefaultMaxFramePayload uint32 = 64 * 1024

	// DefaultAcceptBacklog 未被接受的入站流积压上限
	DefaultAcceptBacklog = 256
)

// Config 会话配置
type Config struct {
	// InitialStreamWindow 每条流的初始接收窗口（字节）
	InitialStreamWindow uint32

	// MaxFramePayload 单个 Data 帧的负载上限（字节）
	// 更大的逻辑写入被拆分为多帧
	MaxFramePayload uint32

	// AcceptBacklog 未被 AcceptStream 取走的入站流上限
	// 超出后新的入站流被 RST 拒绝
	AcceptBacklog int

	// Acceptor 入站流裁决回调，nil 时入站流进入积压队列
	Acceptor muxer.Acceptor

	// PingInterval 心跳间隔，0 表示禁用保活
	PingInterval time.Duration

	// PingTimeout 单次心跳的应答超时
	PingTimeout time.Duration

	// MaxMissedPings 连续超时多少次后判定连接死亡
	MaxMissedPings int

	// ConnectionWriteTimeout 会话控制帧的写出等待上限
	// 传输长时间拥塞时放弃等待，直接进入关闭流程
	ConnectionWriteTimeout time.Duration

	// WriteBatch 发送循环的缓冲区大小（字节）
	WriteBatch int

	// Logger 日志实例，nil 时使用子系统默认 Logger
	Logger *slog.Logger

	// Clock 时钟源，nil 时使用真实时钟；测试注入 mock
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		InitialStreamWindow: DefaultInitialStreamWindow,
		MaxFramePayload:     DefaultMaxFramePayload,
		AcceptBacklog:       DefaultAcceptBacklog,
		PingInterval:           30 * time.Second,
		PingTimeout:            10 * time.Second,
		MaxMissedPings:         3,
		ConnectionWriteTimeout: 10 * time.Second,
		WriteBatch:             32 * 1024,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.InitialStreamWindow < 16*1024 {
		return fmt.Errorf("initial stream window %d below minimum 16KiB", c.InitialStreamWindow)
	}
	if c.MaxFramePayload == 0 {
		return errors.New("max frame payload must be positive")
	}
	if c.MaxFramePayload > c.InitialStreamWindow {
		return fmt.Errorf("max frame payload %d exceeds initial window %d", c.MaxFramePayload, c.InitialStreamWindow)
	}
	if c.AcceptBacklog <= 0 {
		return errors.New("accept backlog must be positive")
	}
	if c.PingInterval > 0 {
		if c.PingTimeout <= 0 {
			return errors.New("ping timeout must be positive when keepalive enabled")
		}
		if c.MaxMissedPings <= 0 {
			return errors.New("max missed pings must be positive when keepalive enabled")
		}
	}
	return nil
}

// populateDefaults 填充可选字段
func (c *Config) populateDefaults() {
	if c.WriteBatch <= 0 {
		c.WriteBatch = 32 * 1024
	}
	if c.ConnectionWriteTimeout <= 0 {
		c.ConnectionWriteTimeout = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}
