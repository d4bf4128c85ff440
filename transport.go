package yamux

import (
	"fmt"
	"io"

	"github.com/dep2p/go-yamux/pkg/interfaces/muxer"
)

// Transport yamux 多路复用器工厂
type Transport struct {
	config *Config
}

// 确保实现 muxer.MuxerFactory 接口
var _ muxer.MuxerFactory = (*Transport)(nil)

// NewTransport 使用默认配置创建 Transport
func NewTransport() *Transport {
	return &Transport{config: DefaultConfig()}
}

// NewTransportWithConfig 使用指定配置创建 Transport
func NewTransportWithConfig(cfg *Config) (*Transport, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Transport{config: cfg}, nil
}

// NewMuxer 从连接创建多路复用器
//
// isServer 表示本端是否为监听方。
func (t *Transport) NewMuxer(conn io.ReadWriteCloser, isServer bool) (muxer.Muxer, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection must not be nil")
	}

	cfg := *t.config
	if isServer {
		return Server(conn, &cfg)
	}
	return Client(conn, &cfg)
}

// Protocol 返回协议标识
func (t *Transport) Protocol() string {
	return ProtocolID
}

// Config 返回配置（供测试使用）
func (t *Transport) Config() *Config {
	return t.config
}
