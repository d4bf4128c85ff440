package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeader_RoundTrip 测试头部编解码往返
func TestHeader_RoundTrip(t *testing.T) {
	headers := []Header{
		{Version: 0, Type: TypeData, Flags: FlagSYN, StreamID: 1, Length: 12},
		{Version: 0, Type: TypeWindowUpdate, Flags: 0, StreamID: 2, Length: 256 * 1024},
		{Version: 0, Type: TypePing, Flags: FlagSYN | FlagACK, StreamID: 0, Length: 0},
		{Version: 0, Type: TypeGoAway, Flags: 0, StreamID: 0, Length: 2},
		{Version: 0, Type: TypeData, Flags: FlagSYN | FlagACK | FlagFIN | FlagRST, StreamID: 0xFFFFFFFF, Length: 0xFFFFFFFF},
	}

	for _, h := range headers {
		b := h.Encode()
		require.Len(t, b, HeaderSize)

		got, err := DecodeHeader(b[:])
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

// TestHeader_Encode 测试头部编码的字节布局
func TestHeader_Encode(t *testing.T) {
	// 会话打开：Ping|SYN stream 0
	h := Header{Version: 0, Type: TypePing, Flags: FlagSYN, StreamID: 0, Length: 0}
	b := h.Encode()
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}, b[:])

	// Ping 回显：opaque 1234
	h = Header{Version: 0, Type: TypePing, Flags: FlagACK, StreamID: 0, Length: 1234}
	b = h.Encode()
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0x02, 0, 0, 0, 0, 0x00, 0x00, 0x04, 0xD2}, b[:])
}

// TestFlags_Independence 测试标志位子集的独立性
func TestFlags_Independence(t *testing.T) {
	all := []Flags{FlagSYN, FlagACK, FlagFIN, FlagRST}
	for mask := 0; mask < 16; mask++ {
		var flags Flags
		for i, f := range all {
			if mask&(1<<i) != 0 {
				flags |= f
			}
		}
		h := Header{Version: 0, Type: TypeData, Flags: flags, StreamID: 7, Length: 1}
		b := h.Encode()
		got, err := DecodeHeader(b[:])
		require.NoError(t, err)
		assert.Equal(t, flags, got.Flags)
		for i, f := range all {
			assert.Equal(t, mask&(1<<i) != 0, got.Flags.Has(f))
		}
	}
}

// TestHeader_Validate 测试头部校验规则
func TestHeader_Validate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		valid := []Header{
			{Type: TypeData, Flags: FlagSYN, StreamID: 1, Length: 0},
			{Type: TypeData, StreamID: 3, Length: 10},
			{Type: TypeWindowUpdate, StreamID: 2, Length: 1024},
			{Type: TypePing, StreamID: 0, Length: 42},
			{Type: TypeGoAway, StreamID: 0, Length: 1},
		}
		for _, h := range valid {
			assert.NoError(t, h.Validate(), "header %+v", h)
		}
	})

	t.Run("BadVersion", func(t *testing.T) {
		h := Header{Version: 1, Type: TypeData, StreamID: 1, Length: 1}
		assert.ErrorIs(t, h.Validate(), ErrUnsupportedVersion)
	})

	t.Run("BadType", func(t *testing.T) {
		h := Header{Type: Type(9), StreamID: 1, Length: 1}
		assert.ErrorIs(t, h.Validate(), ErrInvalidFormat)
	})

	t.Run("PingWithStream", func(t *testing.T) {
		h := Header{Type: TypePing, StreamID: 5}
		assert.ErrorIs(t, h.Validate(), ErrInvalidFormat)
	})

	t.Run("GoAwayWithStream", func(t *testing.T) {
		h := Header{Type: TypeGoAway, StreamID: 5}
		assert.ErrorIs(t, h.Validate(), ErrInvalidFormat)
	})

	t.Run("DataOnSessionStream", func(t *testing.T) {
		h := Header{Type: TypeData, StreamID: 0, Length: 1}
		assert.ErrorIs(t, h.Validate(), ErrInvalidFormat)
	})

	t.Run("WindowUpdateOnSessionStream", func(t *testing.T) {
		h := Header{Type: TypeWindowUpdate, StreamID: 0, Length: 1}
		assert.ErrorIs(t, h.Validate(), ErrInvalidFormat)
	})

	t.Run("EmptyDataWithoutFlags", func(t *testing.T) {
		h := Header{Type: TypeData, StreamID: 1, Length: 0}
		assert.ErrorIs(t, h.Validate(), ErrInvalidFormat)

		// 带标志位的空 Data 帧合法：仅承载控制语义
		h.Flags = FlagFIN
		assert.NoError(t, h.Validate())
	})
}

// TestFrame_RoundTrip 测试整帧编解码往返
func TestFrame_RoundTrip(t *testing.T) {
	frames := []*Frame{
		NewData(FlagSYN, 1, []byte("Hello World!")),
		NewData(FlagFIN, 9, nil),
		New(TypeWindowUpdate, 0, 4, 32*1024),
		New(TypePing, 0, 0, 77),
		New(TypeGoAway, 0, 0, uint32(GoAwayProtoErr)),
	}

	for _, f := range frames {
		var buf bytes.Buffer
		buf.Write(f.Encode())

		var d Decoder
		got, err := d.Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, f.Header, got.Header)
		assert.Equal(t, f.Payload, got.Payload)
		assert.Zero(t, buf.Len(), "buffer fully consumed")
	}
}

// TestDecoder_NeedMoreData 测试不完整输入
func TestDecoder_NeedMoreData(t *testing.T) {
	f := NewData(FlagSYN, 1, []byte("Hello World!"))
	wire := f.Encode()

	t.Run("PartialHeader", func(t *testing.T) {
		var d Decoder
		var buf bytes.Buffer
		buf.Write(wire[:HeaderSize-1])

		_, err := d.Decode(&buf)
		assert.ErrorIs(t, err, ErrNeedMoreData)
		// 未消费任何字节
		assert.Equal(t, HeaderSize-1, buf.Len())
	})

	t.Run("PartialPayload", func(t *testing.T) {
		var d Decoder
		var buf bytes.Buffer
		buf.Write(wire[:HeaderSize+4])

		_, err := d.Decode(&buf)
		assert.ErrorIs(t, err, ErrNeedMoreData)
		// 头部已缓存，负载字节保留在输入中
		assert.True(t, d.Pending())
		assert.Equal(t, 4, buf.Len())

		// 续传剩余负载后恢复解码，头部不再重复解析
		buf.Write(wire[HeaderSize+4:])
		got, err := d.Decode(&buf)
		require.NoError(t, err)
		assert.False(t, d.Pending())
		assert.Equal(t, []byte("Hello World!"), got.Payload)
		assert.Zero(t, buf.Len())
	})

	t.Run("ByteAtATime", func(t *testing.T) {
		var d Decoder
		var buf bytes.Buffer
		var got *Frame
		for _, b := range wire {
			buf.WriteByte(b)
			f, err := d.Decode(&buf)
			if err != nil {
				assert.ErrorIs(t, err, ErrNeedMoreData)
				continue
			}
			got = f
		}
		require.NotNil(t, got)
		assert.Equal(t, []byte("Hello World!"), got.Payload)
	})
}

// TestDecoder_Sequence 测试连续多帧解码
func TestDecoder_Sequence(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(New(TypePing, FlagSYN, 0, 0).Encode())
	buf.Write(NewData(FlagSYN, 1, []byte("abc")).Encode())
	buf.Write(New(TypeWindowUpdate, 0, 1, 100).Encode())

	var d Decoder
	f1, err := d.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypePing, f1.Type)

	f2, err := d.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), f2.Payload)

	f3, err := d.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), f3.Length)

	_, err = d.Decode(&buf)
	assert.ErrorIs(t, err, ErrNeedMoreData)
}

// TestDecoder_Invalid 测试非法帧被拒绝
func TestDecoder_Invalid(t *testing.T) {
	t.Run("BadVersion", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write([]byte{0x01, 0x00, 0x00, 0x01, 0, 0, 0, 1, 0, 0, 0, 0})

		var d Decoder
		_, err := d.Decode(&buf)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("PayloadTooLarge", func(t *testing.T) {
		var buf bytes.Buffer
		hdr := Header{Type: TypeData, StreamID: 1, Length: 1 << 20}.Encode()
		buf.Write(hdr[:])

		d := Decoder{MaxPayload: 64 * 1024}
		_, err := d.Decode(&buf)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})
}

// TestTypeFlagsString 测试日志可读输出
func TestTypeFlagsString(t *testing.T) {
	assert.Equal(t, "Data", TypeData.String())
	assert.Equal(t, "GoAway", TypeGoAway.String())
	assert.Equal(t, "SYN|FIN", (FlagSYN | FlagFIN).String())
	assert.Equal(t, "-", Flags(0).String())
	assert.Equal(t, "protocol error", GoAwayProtoErr.String())
}
