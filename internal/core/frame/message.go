package frame

// 消息视图
//
// 一个帧可能同时携带多个逻辑事件：比如 Data|SYN|FIN 帧在打开流的
// 同时投递数据并半关闭。消费方需要确定的处理顺序，因此帧被展开为
// 按固定秩排序的消息序列：
//
//	SYN < ACK < Data < WindowUpdate < Ping < FIN < RST < GoAway

// Message 帧蕴含的单个逻辑事件
type Message interface {
	// Rank 返回规范处理顺序中的秩
	Rank() int
}

// 秩常量，与消息类型一一对应
const (
	rankSYN = iota
	rankACK
	rankData
	rankWindowUpdate
	rankPing
	rankFIN
	rankRST
	rankGoAway
)

// SessionOpen 会话打开请求（stream 0 上的 Ping|SYN）
//
// MaxFramePayload 为发送方通告的单帧负载上限，0 表示使用默认值。
type SessionOpen struct {
	MaxFramePayload uint32
}

// SessionOpenAck 会话打开确认（stream 0 上的 Ping|ACK）
//
// 会话建立后，同样的线上形态承载 ping 应答，Opaque 为回显值。
type SessionOpenAck struct {
	Opaque uint32
}

// Ping 心跳请求（stream 0 上的无标志 Ping）
type Ping struct {
	Opaque uint32
}

// GoAway 会话终止
type GoAway struct {
	Code GoAwayCode
}

// ChannelOpen 流打开请求（非零流上的 SYN）
type ChannelOpen struct {
	StreamID uint32
}

// ChannelOpenAck 流打开确认（非零流上的 ACK）
type ChannelOpenAck struct {
	StreamID uint32
}

// ChannelData 流数据投递
type ChannelData struct {
	StreamID uint32
	Payload  []byte
}

// ChannelWindowAdjust 流窗口增量
type ChannelWindowAdjust struct {
	StreamID uint32
	Delta    uint32
}

// ChannelClose 流半关闭（FIN）
type ChannelClose struct {
	StreamID uint32
}

// ChannelReset 流强制关闭（RST）
type ChannelReset struct {
	StreamID uint32
}

func (SessionOpen) Rank() int         { return rankSYN }
func (SessionOpenAck) Rank() int      { return rankACK }
func (Ping) Rank() int                { return rankPing }
func (GoAway) Rank() int              { return rankGoAway }
func (ChannelOpen) Rank() int         { return rankSYN }
func (ChannelOpenAck) Rank() int      { return rankACK }
func (ChannelData) Rank() int         { return rankData }
func (ChannelWindowAdjust) Rank() int { return rankWindowUpdate }
func (ChannelClose) Rank() int        { return rankFIN }
func (ChannelReset) Rank() int        { return rankRST }

// Messages 将帧展开为按秩排序的消息序列
//
// 通过按规范顺序解构标志位和类型生成，无需排序。
// 空负载的 Data 和零增量的 WindowUpdate 不产生对应的主体消息，
// 这类帧仅为携带标志位而存在。
func (f *Frame) Messages() []Message {
	msgs := make([]Message, 0, 3)

	if f.StreamID == 0 {
		switch f.Type {
		case TypePing:
			switch {
			case f.Flags.Has(FlagSYN):
				msgs = append(msgs, SessionOpen{MaxFramePayload: f.Length})
			case f.Flags.Has(FlagACK):
				msgs = append(msgs, SessionOpenAck{Opaque: f.Length})
			default:
				msgs = append(msgs, Ping{Opaque: f.Length})
			}
		case TypeGoAway:
			msgs = append(msgs, GoAway{Code: GoAwayCode(f.Length)})
		}
		return msgs
	}

	if f.Flags.Has(FlagSYN) {
		msgs = append(msgs, ChannelOpen{StreamID: f.StreamID})
	}
	if f.Flags.Has(FlagACK) {
		msgs = append(msgs, ChannelOpenAck{StreamID: f.StreamID})
	}
	switch f.Type {
	case TypeData:
		if len(f.Payload) > 0 {
			msgs = append(msgs, ChannelData{StreamID: f.StreamID, Payload: f.Payload})
		}
	case TypeWindowUpdate:
		if f.Length > 0 {
			msgs = append(msgs, ChannelWindowAdjust{StreamID: f.StreamID, Delta: f.Length})
		}
	}
	if f.Flags.Has(FlagFIN) {
		msgs = append(msgs, ChannelClose{StreamID: f.StreamID})
	}
	if f.Flags.Has(FlagRST) {
		msgs = append(msgs, ChannelReset{StreamID: f.StreamID})
	}
	return msgs
}
