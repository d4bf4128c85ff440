package flow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOutbound_Writable 测试可写性门控
func TestOutbound_Writable(t *testing.T) {
	o := NewOutbound(10)
	assert.True(t, o.IsWritable())

	o.OnBuffer(5)
	assert.True(t, o.IsWritable())
	assert.Equal(t, uint32(5), o.Sendable())

	o.OnBuffer(5)
	// 信用与积压相等：不可写
	assert.False(t, o.IsWritable())
	assert.Equal(t, uint32(10), o.Sendable())

	require.NoError(t, o.OnWrote(10))
	assert.Equal(t, uint32(0), o.Free())
	assert.Equal(t, uint64(0), o.Buffered())
	assert.False(t, o.IsWritable())

	// 对端回填后恢复可写
	require.NoError(t, o.OnWindowIncrement(4))
	assert.True(t, o.IsWritable())
}

// TestOutbound_WindowSafety 测试发送不越过授信
func TestOutbound_WindowSafety(t *testing.T) {
	o := NewOutbound(100)
	o.OnBuffer(300)

	var sent uint64
	for o.Sendable() > 0 {
		n := o.Sendable()
		require.NoError(t, o.OnWrote(int(n)))
		sent += uint64(n)
	}
	// 已发送字节不超过初始授信
	assert.Equal(t, uint64(100), sent)
	assert.Equal(t, uint64(200), o.Buffered())

	require.NoError(t, o.OnWindowIncrement(50))
	assert.Equal(t, uint32(50), o.Sendable())
}

// TestOutbound_Underflow 测试本地超发被拦截
func TestOutbound_Underflow(t *testing.T) {
	o := NewOutbound(10)
	o.OnBuffer(20)
	assert.ErrorIs(t, o.OnWrote(11), ErrWindowUnderflow)
}

// TestOutbound_IncrementOverflow 测试窗口增量溢出
func TestOutbound_IncrementOverflow(t *testing.T) {
	o := NewOutbound(math.MaxUint32 - 10)
	assert.NoError(t, o.OnWindowIncrement(10))
	assert.ErrorIs(t, o.OnWindowIncrement(1), ErrWindowOverflow)

	o = NewOutbound(math.MaxUint32 - 10)
	assert.ErrorIs(t, o.OnWindowIncrement(20), ErrWindowOverflow)
}

// TestInbound_Policing 测试对端超发被拦截
func TestInbound_Policing(t *testing.T) {
	i := NewInbound(100)
	assert.Equal(t, uint32(100), i.Remaining())

	require.NoError(t, i.OnData(60))
	assert.Equal(t, uint32(40), i.Remaining())

	assert.ErrorIs(t, i.OnData(41), ErrWindowExceeded)
}

// TestInbound_Advertise 测试消费过半才回填
func TestInbound_Advertise(t *testing.T) {
	i := NewInbound(DefaultWindow)
	require.NoError(t, i.OnData(int(DefaultWindow)))

	// 阈值以下不通告
	delta, ok := i.Consume(int(DefaultWindow/2 - 1))
	assert.False(t, ok)
	assert.Zero(t, delta)

	// 过半后一次性通告全部累计值
	delta, ok = i.Consume(1)
	assert.True(t, ok)
	assert.Equal(t, DefaultWindow/2, delta)
	assert.Equal(t, DefaultWindow/2, i.Remaining())

	// 计数已重置
	delta, ok = i.Consume(1)
	assert.False(t, ok)
	assert.Zero(t, delta)
}
