package yamux

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-yamux/internal/core/flow"
	"github.com/dep2p/go-yamux/internal/core/state"
	"github.com/dep2p/go-yamux/pkg/interfaces/muxer"
)

// Stream 会话上的一条逻辑流
//
// 状态机、流控和写队列仅由会话执行体变更；
// 应用侧句柄通过命令通道提交操作。
type Stream struct {
	id      uint32
	session *Session

	// 以下字段仅由会话执行体访问
	machine    *state.StreamMachine
	fcOut      *flow.Outbound
	fcIn       *flow.Inbound
	writeQ     []*writeReq
	finPending bool
	discard    bool

	// 状态镜像，供句柄侧无锁查询
	stateMirror atomic.Uint32

	// 接收缓冲：执行体写入，应用读取
	recvMu     sync.Mutex
	recvBuf    bytes.Buffer
	recvErr    error // 缓冲排空后向读者报告
	recvNotify chan struct{}

	// 窗口回填：应用侧累计，执行体收割
	pendingCredit atomic.Uint32
	creditQueued  atomic.Bool

	writeMu       sync.Mutex // 每条流同时至多一个写者
	readDeadline  deadline
	writeDeadline deadline
}

// 确保实现 muxer.Stream 接口
var _ muxer.Stream = (*Stream)(nil)

// writeReq 一次逻辑写入
type writeReq struct {
	data   []byte
	off    int
	result chan error
}

func newStream(s *Session, id uint32, window uint32) *Stream {
	st := &Stream{
		id:         id,
		session:    s,
		machine:    state.NewStreamMachine(),
		fcOut:      flow.NewOutbound(window),
		fcIn:       flow.NewInbound(window),
		recvNotify: make(chan struct{}, 1),
	}
	st.readDeadline.init()
	st.writeDeadline.init()
	return st
}

// ID 返回流 ID
func (s *Stream) ID() uint32 {
	return s.id
}

// Session 返回所属会话
func (s *Stream) Session() *Session {
	return s.session
}

// State 返回当前流状态
func (s *Stream) State() state.StreamState {
	return state.StreamState(s.stateMirror.Load())
}

// PeerMaxFramePayload 返回对端通告的单帧负载上限
func (s *Stream) PeerMaxFramePayload() uint32 {
	return s.session.PeerMaxFramePayload()
}

// mirrorState 由执行体在每次迁移后调用
func (s *Stream) mirrorState() {
	s.stateMirror.Store(uint32(s.machine.State()))
}

// ============================================================================
//                              读路径
// ============================================================================

// Read 从流中读取数据
//
// 按接收顺序投递；对端半关闭且缓冲排空后返回 io.EOF。
func (s *Stream) Read(p []byte) (int, error) {
	for {
		s.recvMu.Lock()
		if s.recvBuf.Len() > 0 {
			n, _ := s.recvBuf.Read(p)
			s.recvMu.Unlock()
			s.credit(n)
			return n, nil
		}
		err := s.recvErr
		s.recvMu.Unlock()

		if err != nil {
			return 0, err
		}
		if len(p) == 0 {
			return 0, nil
		}

		select {
		case <-s.recvNotify:
		case <-s.readDeadline.done():
			return 0, ErrTimeout
		case <-s.session.shutdownCh:
			return 0, s.session.shutdownReason()
		}
	}
}

// credit 向执行体上报已消费字节，驱动窗口回填
func (s *Stream) credit(n int) {
	if n <= 0 {
		return
	}
	s.pendingCredit.Add(uint32(n))
	if !s.creditQueued.CompareAndSwap(false, true) {
		return
	}
	select {
	case s.session.creditCh <- s:
	case <-s.session.shutdownCh:
		s.creditQueued.Store(false)
	}
}

// pushData 执行体投递入站负载
func (s *Stream) pushData(p []byte) {
	s.recvMu.Lock()
	s.recvBuf.Write(p)
	s.recvMu.Unlock()
	s.notifyRead()
}

// setReadErr 执行体设置读侧终止原因
//
// drain 为 true 时保留已缓冲数据让读者排空，否则立即丢弃。
func (s *Stream) setReadErr(err error, drain bool) {
	s.recvMu.Lock()
	if s.recvErr == nil || s.recvErr == io.EOF {
		s.recvErr = err
	}
	if !drain {
		s.recvBuf.Reset()
		s.recvErr = err
	}
	s.recvMu.Unlock()
	s.notifyRead()
}

func (s *Stream) notifyRead() {
	select {
	case s.recvNotify <- struct{}{}:
	default:
	}
}

// ============================================================================
//                              写路径
// ============================================================================

// Write 向流写入数据
//
// 写入按序投递；出站窗口耗尽时挂起，收到 WindowUpdate 后恢复。
// 超过截止时间返回已发出的字节数和 ErrTimeout，剩余字节不再发送。
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}

	req := &writeReq{data: p, result: make(chan error, 1)}
	if err := s.session.submit(writeCmd{st: s, req: req}); err != nil {
		return 0, err
	}

	select {
	case err := <-req.result:
		if err != nil {
			return req.off, err
		}
		return len(p), nil
	case <-s.writeDeadline.done():
		return s.cancelWrite(req), ErrTimeout
	case <-s.session.shutdownCh:
		return s.cancelWrite(req), s.session.shutdownReason()
	}
}

// cancelWrite 撤销尚未发出的部分，返回已发出的字节数
func (s *Stream) cancelWrite(req *writeReq) int {
	reply := make(chan int, 1)
	if err := s.session.submit(writeCancelCmd{st: s, req: req, reply: reply}); err != nil {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-s.session.shutdownCh:
		return 0
	}
}

// ============================================================================
//                              关闭路径
// ============================================================================

// Close 关闭写端（半关闭）
//
// 排空写队列后发送 FIN，读端不受影响。
// 对已关闭的流调用是无副作用的成功。
func (s *Stream) Close() error {
	reply := make(chan error, 1)
	if err := s.session.submit(closeCmd{st: s, reply: reply}); err != nil {
		// 会话已关闭意味着流已被终止，关闭视为成功
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-s.session.shutdownCh:
		return nil
	}
}

// CloseWrite 关闭写端，同 Close
func (s *Stream) CloseWrite() error {
	return s.Close()
}

// CloseRead 关闭读端
//
// 排队数据被丢弃，后续读取返回 ErrStreamClosed；
// 仍在途的入站数据被静默消费并回填窗口。
func (s *Stream) CloseRead() error {
	return s.session.submit(closeReadCmd{st: s})
}

// Reset 重置流
//
// 立即终止两个方向并发送 RST。
func (s *Stream) Reset() error {
	reply := make(chan error, 1)
	if err := s.session.submit(resetCmd{st: s, reply: reply}); err != nil {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-s.session.shutdownCh:
		return nil
	}
}

// ============================================================================
//                              截止时间
// ============================================================================

// SetDeadline 设置读写截止时间
func (s *Stream) SetDeadline(t time.Time) error {
	s.readDeadline.set(t)
	s.writeDeadline.set(t)
	return nil
}

// SetReadDeadline 设置读截止时间
func (s *Stream) SetReadDeadline(t time.Time) error {
	s.readDeadline.set(t)
	return nil
}

// SetWriteDeadline 设置写截止时间
func (s *Stream) SetWriteDeadline(t time.Time) error {
	s.writeDeadline.set(t)
	return nil
}

// deadline 可重置的截止时间信号
//
// 零值截止时间表示永不超时。
type deadline struct {
	mu     sync.Mutex
	timer  *time.Timer
	cancel chan struct{}
}

func (d *deadline) init() {
	d.cancel = make(chan struct{})
}

func (d *deadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil && !d.timer.Stop() {
		<-d.cancel // 已触发，排空旧信号
	}
	d.timer = nil

	closed := isClosed(d.cancel)
	if t.IsZero() {
		if closed {
			d.cancel = make(chan struct{})
		}
		return
	}

	dur := time.Until(t)
	if dur <= 0 {
		if !closed {
			close(d.cancel)
		}
		return
	}

	if closed {
		d.cancel = make(chan struct{})
	}
	cancel := d.cancel
	d.timer = time.AfterFunc(dur, func() {
		close(cancel)
	})
}

func (d *deadline) done() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel
}

func isClosed(c chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
