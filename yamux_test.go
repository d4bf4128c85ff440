package yamux

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-yamux/internal/core/frame"
	"github.com/dep2p/go-yamux/internal/util/logger"
)

// testConnPair 创建测试用的连接对
func testConnPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	var serverConn net.Conn
	done := make(chan struct{})
	go func() {
		serverConn, _ = ln.Accept()
		close(done)
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	<-done

	return clientConn, serverConn
}

// testConfig 返回关闭保活和日志的测试配置
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.PingInterval = 0
	cfg.Logger = logger.Discard()
	return cfg
}

// testSessionPair 创建一对互联的会话（不等待握手完成），t 结束时自动关闭
func testSessionPair(t *testing.T) (client, server *Session) {
	t.Helper()

	clientConn, serverConn := testConnPair(t)

	client, err := Client(clientConn, testConfig())
	require.NoError(t, err)
	server, err = Server(serverConn, testConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

// rawPeer 裸连接上的帧级对端，用于线级场景测试
type rawPeer struct {
	t       *testing.T
	conn    net.Conn
	decoder frame.Decoder
	buf     bytes.Buffer
}

func newRawPeer(t *testing.T, conn net.Conn) *rawPeer {
	return &rawPeer{t: t, conn: conn}
}

// write 发送一帧
func (p *rawPeer) write(f *frame.Frame) {
	p.t.Helper()
	_, err := p.conn.Write(f.Encode())
	require.NoError(p.t, err)
}

// writeBytes 发送原始字节
func (p *rawPeer) writeBytes(b []byte) {
	p.t.Helper()
	_, err := p.conn.Write(b)
	require.NoError(p.t, err)
}

// read 读取下一帧
func (p *rawPeer) read() *frame.Frame {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	chunk := make([]byte, 4096)
	for {
		if f, err := p.decoder.Decode(&p.buf); err == nil {
			return f
		}
		n, err := p.conn.Read(chunk)
		if n > 0 {
			p.buf.Write(chunk[:n])
			continue
		}
		require.NoError(p.t, err, "reading frame")
	}
}

// readUntil 跳帧直到遇到指定类型
func (p *rawPeer) readUntil(typ frame.Type) *frame.Frame {
	p.t.Helper()
	for {
		f := p.read()
		if f.Type == typ {
			return f
		}
	}
}

// expectEOF 断言连接已被对端关闭
func (p *rawPeer) expectEOF() {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	chunk := make([]byte, 256)
	for {
		// 关闭前可能还有在途帧，跳过直到读出错
		if _, err := p.conn.Read(chunk); err != nil {
			return
		}
	}
}
