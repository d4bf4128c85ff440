package yamux

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-yamux/internal/core/state"
)

// openEcho 建立一对互联的流，服务端流由调用方驱动
func openEcho(t *testing.T, client, server *Session) (*Stream, *Stream) {
	t.Helper()

	acceptCh := make(chan *Stream, 1)
	go func() {
		st, err := server.AcceptStream()
		if err != nil {
			return
		}
		acceptCh <- st.(*Stream)
	}()

	local, err := client.OpenStream(context.Background())
	require.NoError(t, err)

	select {
	case remote := <-acceptCh:
		return local, remote
	case <-time.After(5 * time.Second):
		t.Fatal("accept timed out")
		return nil, nil
	}
}

// TestStream_ResetSupersedes 测试重置后读写全部失败
func TestStream_ResetSupersedes(t *testing.T) {
	client, server := testSessionPair(t)
	local, remote := openEcho(t, client, server)

	// 对端先送一些数据进来
	_, err := remote.Write([]byte("pending"))
	require.NoError(t, err)

	require.NoError(t, local.Reset())
	assert.Equal(t, state.StreamReset, local.State())

	// 重置后读不到任何数据
	buf := make([]byte, 16)
	_, err = local.Read(buf)
	assert.ErrorIs(t, err, ErrStreamReset)

	_, err = local.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrStreamReset)

	// 对端观察到 RST
	require.Eventually(t, func() bool {
		_, err := remote.Read(buf)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	// 重复重置是无副作用的成功
	require.NoError(t, local.Reset())
}

// TestStream_WriteAfterClose 测试半关闭后写入失败
func TestStream_WriteAfterClose(t *testing.T) {
	client, server := testSessionPair(t)
	local, remote := openEcho(t, client, server)

	require.NoError(t, local.Close())
	_, err := local.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrStreamClosed)

	// 半关闭只影响写端：对端数据仍可读
	_, err = remote.Write([]byte("inbound"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := local.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "inbound", string(buf[:n]))
}

// TestStream_ReadDeadline 测试读截止时间
func TestStream_ReadDeadline(t *testing.T) {
	client, server := testSessionPair(t)
	local, _ := openEcho(t, client, server)

	require.NoError(t, local.SetReadDeadline(time.Now().Add(50*time.Millisecond)))

	buf := make([]byte, 16)
	_, err := local.Read(buf)
	assert.ErrorIs(t, err, ErrTimeout)

	// 清除截止时间后恢复可用
	require.NoError(t, local.SetReadDeadline(time.Time{}))
}

// TestStream_WriteDeadline 测试窗口耗尽时写超时
func TestStream_WriteDeadline(t *testing.T) {
	client, server := testSessionPair(t)
	local, _ := openEcho(t, client, server)

	// 对端不读：超过初始窗口的写入必然挂起
	require.NoError(t, local.SetWriteDeadline(time.Now().Add(100*time.Millisecond)))

	payload := make([]byte, int(DefaultInitialStreamWindow)*2)
	n, err := local.Write(payload)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, n, len(payload))
	assert.LessOrEqual(t, n, int(DefaultInitialStreamWindow))
}

// TestStream_CloseRead 测试关闭读端后入站数据被静默消费
func TestStream_CloseRead(t *testing.T) {
	client, server := testSessionPair(t)
	local, remote := openEcho(t, client, server)

	require.NoError(t, local.CloseRead())

	buf := make([]byte, 16)
	_, err := local.Read(buf)
	assert.ErrorIs(t, err, ErrStreamClosed)

	// 对端持续写入超过一个窗口：窗口被自动回填，写端不会饿死
	var eg errgroup.Group
	eg.Go(func() error {
		payload := bytes.Repeat([]byte{0x42}, int(DefaultInitialStreamWindow)*3)
		_, err := remote.Write(payload)
		return err
	})
	require.NoError(t, eg.Wait())

	// 写端不受影响
	_, err = local.Write([]byte("still writable"))
	require.NoError(t, err)
}

// TestStream_PeerMaxFramePayload 测试对端帧上限通告
func TestStream_PeerMaxFramePayload(t *testing.T) {
	clientConn, serverConn := testConnPair(t)

	serverCfg := testConfig()
	serverCfg.MaxFramePayload = 32 * 1024

	client, err := Client(clientConn, testConfig())
	require.NoError(t, err)
	server, err := Server(serverConn, serverCfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	local, _ := openEcho(t, client, server)

	// 监听方在会话打开帧中通告了 32KiB
	assert.Equal(t, uint32(32*1024), client.PeerMaxFramePayload())
	assert.Equal(t, uint32(32*1024), local.PeerMaxFramePayload())
	// 发起方使用默认值，通告 0
	assert.Equal(t, DefaultMaxFramePayload, server.PeerMaxFramePayload())
}

// TestStream_ZeroLengthWrite 测试空写直接成功
func TestStream_ZeroLengthWrite(t *testing.T) {
	client, server := testSessionPair(t)
	local, _ := openEcho(t, client, server)

	n, err := local.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
