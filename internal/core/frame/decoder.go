package frame

import (
	"bytes"
	"fmt"
)

// Decoder 流式帧解码器
//
// 输入字节由调用方累积在一个 bytes.Buffer 中，Decode 按帧消费。
// 头部完整但 Data 负载尚未到齐时，解码器缓存已解析的头部，
// 续传时不会重复解析。
//
// 非并发安全：每个会话的接收循环独占一个 Decoder。
type Decoder struct {
	// MaxPayload Data 负载上限，0 表示不限制。
	// 合法对端的单帧负载不会超过接收窗口，超限视为协议违规。
	MaxPayload uint32

	pending *Header
}

// Decode 尝试从 buf 解出下一帧
//
// 返回 ErrNeedMoreData 时 buf 中未消费的字节保持原样；
// 其余错误均为协议级错误，会话应当就此失败。
func (d *Decoder) Decode(buf *bytes.Buffer) (*Frame, error) {
	if d.pending == nil {
		if buf.Len() < HeaderSize {
			return nil, ErrNeedMoreData
		}
		hdr, err := DecodeHeader(buf.Bytes())
		if err != nil {
			return nil, err
		}
		if err := hdr.Validate(); err != nil {
			return nil, err
		}
		if hdr.Type == TypeData && d.MaxPayload > 0 && hdr.Length > d.MaxPayload {
			return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, hdr.Length, d.MaxPayload)
		}
		buf.Next(HeaderSize)
		d.pending = &hdr
	}

	hdr := *d.pending
	if hdr.Type != TypeData || hdr.Length == 0 {
		d.pending = nil
		return &Frame{Header: hdr}, nil
	}

	if uint32(buf.Len()) < hdr.Length {
		return nil, ErrNeedMoreData
	}
	payload := make([]byte, hdr.Length)
	copy(payload, buf.Next(int(hdr.Length)))
	d.pending = nil
	return &Frame{Header: hdr, Payload: payload}, nil
}

// Pending 返回是否有已解析但负载未到齐的头部
func (d *Decoder) Pending() bool {
	return d.pending != nil
}

// Reset 丢弃缓存的头部
func (d *Decoder) Reset() {
	d.pending = nil
}
