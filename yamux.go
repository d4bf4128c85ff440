package yamux

import (
	"io"
)

// ProtocolID 协议协商用的标识
const ProtocolID = "/yamux/1.0.0"

// Server 在连接上创建监听方会话
//
// 监听方使用偶数流 ID，并在挂载时发起会话打开握手。
// cfg 为 nil 时使用默认配置。
func Server(conn io.ReadWriteCloser, cfg *Config) (*Session, error) {
	return newSession(conn, cfg, true)
}

// Client 在连接上创建发起方会话
//
// 发起方使用奇数流 ID，等待对端的会话打开握手。
// cfg 为 nil 时使用默认配置。
func Client(conn io.ReadWriteCloser, cfg *Config) (*Session, error) {
	return newSession(conn, cfg, false)
}
