package yamux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	tec "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-yamux/internal/core/flow"
	"github.com/dep2p/go-yamux/internal/core/frame"
	"github.com/dep2p/go-yamux/internal/core/state"
	"github.com/dep2p/go-yamux/internal/util/logger"
	"github.com/dep2p/go-yamux/pkg/interfaces/muxer"
)

// 包级别日志实例
var log = logger.Logger("yamux.session")

// erroredStreamCap 迟到帧容忍集合的容量上限
const erroredStreamCap = 1024

// creditQueueCap 窗口回填通知队列容量
const creditQueueCap = 1024

// Session 单个底层连接上的多路复用会话
//
// 所有会话状态（流表、状态机、流控）由唯一的执行体 goroutine
// 串行变更；接收循环和发送循环只做字节搬运。
type Session struct {
	id     string // 日志关联用
	config *Config
	conn   io.ReadWriteCloser
	server bool // 监听方使用偶数流 ID
	clock  clock.Clock
	log    *slog.Logger

	// 以下字段仅由执行体访问
	machine     *state.SessionMachine
	streams     map[uint32]*Stream
	nextID      uint32
	openWaiters map[uint32]*openWaiter
	pings       map[uint32]*pingWaiter
	nextPing    uint32
	errored     *lru.Cache[uint32, struct{}]
	quiesce     []chan error

	inboxCh  chan *frame.Frame
	cmdCh    chan sessionCmd
	creditCh chan *Stream
	outCh    chan []byte
	acceptCh chan *Stream

	openedOnce sync.Once
	openedCh   chan struct{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	shutdownErr  atomic.Value // error

	peerMaxFrame atomic.Uint32
	numStreams   atomic.Int32
	heartbeat    heartbeatState

	eg errgroup.Group
}

// 确保实现 muxer.Muxer 接口
var _ muxer.Muxer = (*Session)(nil)

// openWaiter 等待对端确认的出站流
type openWaiter struct {
	id        uint32
	st        *Stream
	cancelled bool
	result    chan openResult
}

type openResult struct {
	st  *Stream
	err error
}

// pingWaiter 等待应答的心跳
type pingWaiter struct {
	opaque uint32
	sentAt time.Time
	result chan pingResult
}

type pingResult struct {
	rtt time.Duration
	err error
}

// ============================================================================
//                              命令定义
// ============================================================================

// sessionCmd 应用侧句柄提交给执行体的操作
type sessionCmd interface{ cmd() }

type openCmd struct{ waiter *openWaiter }
type cancelOpenCmd struct{ waiter *openWaiter }
type writeCmd struct {
	st  *Stream
	req *writeReq
}
type writeCancelCmd struct {
	st    *Stream
	req   *writeReq
	reply chan int
}
type closeCmd struct {
	st    *Stream
	reply chan error
}
type closeReadCmd struct{ st *Stream }
type resetCmd struct {
	st    *Stream
	reply chan error
}
type pingCmd struct{ waiter *pingWaiter }
type goAwayCmd struct {
	code  frame.GoAwayCode
	reply chan error
}
type quiesceCmd struct{ reply chan error }

func (openCmd) cmd()        {}
func (cancelOpenCmd) cmd()  {}
func (writeCmd) cmd()       {}
func (writeCancelCmd) cmd() {}
func (closeCmd) cmd()       {}
func (closeReadCmd) cmd()   {}
func (resetCmd) cmd()       {}
func (pingCmd) cmd()        {}
func (goAwayCmd) cmd()      {}
func (quiesceCmd) cmd()     {}

// ============================================================================
//                              构造
// ============================================================================

func newSession(conn io.ReadWriteCloser, config *Config, server bool) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection must not be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.populateDefaults()

	errored, err := lru.New[uint32, struct{}](erroredStreamCap)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:          uuid.NewString(),
		config:      config,
		conn:        conn,
		server:      server,
		clock:       config.Clock,
		machine:     state.NewSessionMachine(),
		streams:     make(map[uint32]*Stream),
		openWaiters: make(map[uint32]*openWaiter),
		pings:       make(map[uint32]*pingWaiter),
		nextPing:    1,
		errored:     errored,
		inboxCh:     make(chan *frame.Frame, 64),
		cmdCh:       make(chan sessionCmd, 64),
		creditCh:    make(chan *Stream, creditQueueCap),
		outCh:       make(chan []byte, 64),
		acceptCh:    make(chan *Stream, config.AcceptBacklog),
		openedCh:    make(chan struct{}),
		shutdownCh:  make(chan struct{}),
	}
	if server {
		s.nextID = 2
	} else {
		s.nextID = 1
	}
	s.peerMaxFrame.Store(DefaultMaxFramePayload)

	if config.Logger != nil {
		s.log = config.Logger.With("session", s.id)
	} else {
		s.log = log.With("session", s.id)
	}

	s.eg.Go(s.recvLoop)
	s.eg.Go(s.sendLoop)
	s.eg.Go(s.loop)
	if server {
		// 监听方在挂载时即发起会话打开握手
		s.submitFrame(frame.New(frame.TypePing, frame.FlagSYN, 0, s.advertisedMaxFrame()))
	}
	if config.PingInterval > 0 {
		s.eg.Go(s.keepalive)
	}

	s.log.Debug("会话已创建", "server", server)
	return s, nil
}

// advertisedMaxFrame 返回会话打开帧携带的负载上限通告
//
// 使用默认值时通告 0，保持线上形态与历史实现一致。
func (s *Session) advertisedMaxFrame() uint32 {
	if s.config.MaxFramePayload == DefaultMaxFramePayload {
		return 0
	}
	return s.config.MaxFramePayload
}

// submitFrame 构造期与执行体内部共用的出站入队
func (s *Session) submitFrame(f *frame.Frame) bool {
	select {
	case s.outCh <- f.Encode():
		return true
	case <-s.shutdownCh:
		return false
	}
}

// ============================================================================
//                              公共接口
// ============================================================================

// IsServer 返回是否为监听方
func (s *Session) IsServer() bool {
	return s.server
}

// IsClosed 检查会话是否已关闭
func (s *Session) IsClosed() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

// NumStreams 返回当前存活的流数量
func (s *Session) NumStreams() int {
	return int(s.numStreams.Load())
}

// PeerMaxFramePayload 返回对端通告的单帧负载上限
func (s *Session) PeerMaxFramePayload() uint32 {
	return s.peerMaxFrame.Load()
}

// shutdownReason 返回会话终止原因
func (s *Session) shutdownReason() error {
	if err, ok := s.shutdownErr.Load().(error); ok {
		return err
	}
	return ErrSessionShutdown
}

// submit 向执行体提交命令
func (s *Session) submit(cmd sessionCmd) error {
	select {
	case s.cmdCh <- cmd:
		return nil
	case <-s.shutdownCh:
		return s.shutdownReason()
	}
}

// OpenStream 打开出站流
//
// 阻塞直到对端确认；对端拒绝、会话关闭或 ctx 取消时失败。
// 取消后迟到的确认会触发立即 RST。
func (s *Session) OpenStream(ctx context.Context) (*Stream, error) {
	// 会话打开握手完成之前不分配流 ID
	select {
	case <-s.openedCh:
	case <-s.shutdownCh:
		return nil, s.shutdownReason()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	w := &openWaiter{result: make(chan openResult, 1)}
	if err := s.submit(openCmd{waiter: w}); err != nil {
		return nil, err
	}

	select {
	case r := <-w.result:
		return r.st, r.err
	case <-ctx.Done():
		_ = s.submit(cancelOpenCmd{waiter: w})
		return nil, ctx.Err()
	case <-s.shutdownCh:
		return nil, s.shutdownReason()
	}
}

// NewStream 创建新流，实现 muxer.Muxer 接口
func (s *Session) NewStream(ctx context.Context) (muxer.Stream, error) {
	return s.OpenStream(ctx)
}

// AcceptStream 接受入站流
//
// 阻塞直到有新流到达或会话关闭。
func (s *Session) AcceptStream() (muxer.Stream, error) {
	select {
	case st := <-s.acceptCh:
		return st, nil
	case <-s.shutdownCh:
		// 关闭前已入队的流仍可取走
		select {
		case st := <-s.acceptCh:
			return st, nil
		default:
			return nil, s.shutdownReason()
		}
	}
}

// Ping 发送心跳并返回往返时延
func (s *Session) Ping() (time.Duration, error) {
	w := &pingWaiter{result: make(chan pingResult, 1)}
	if err := s.submit(pingCmd{waiter: w}); err != nil {
		return 0, err
	}

	var timeout <-chan time.Time
	if s.config.PingTimeout > 0 {
		t := s.clock.Timer(s.config.PingTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-w.result:
		return r.rtt, r.err
	case <-timeout:
		return 0, ErrKeepAliveTimeout
	case <-s.shutdownCh:
		return 0, s.shutdownReason()
	}
}

// GoAway 宣告本端不再接受新流
//
// 存量流可以继续排空。传输拥塞时最多等待 ConnectionWriteTimeout。
func (s *Session) GoAway() error {
	reply := make(chan error, 1)
	if err := s.submit(goAwayCmd{code: frame.GoAwayNormal, reply: reply}); err != nil {
		return err
	}

	timer := s.clock.Timer(s.config.ConnectionWriteTimeout)
	defer timer.Stop()

	select {
	case err := <-reply:
		return err
	case <-timer.C:
		return ErrTimeout
	case <-s.shutdownCh:
		return s.shutdownReason()
	}
}

// CloseAllStreams 静默收尾
//
// 停止接受新流，对每条流发送 FIN，等待全部终结后发出 GoAway(0)。
func (s *Session) CloseAllStreams(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.submit(quiesceCmd{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdownCh:
		return s.shutdownReason()
	}
}

// Close 关闭会话
//
// 发送 GoAway(0) 后强制终止所有流并关闭底层传输。
func (s *Session) Close() error {
	goAwayErr := s.GoAway()
	if errors.Is(goAwayErr, ErrSessionShutdown) || errors.Is(goAwayErr, ErrTimeout) {
		// 已经在关闭流程中，或传输拥塞导致 GoAway 无法送出
		goAwayErr = nil
	}

	var connErr error
	s.shutdown(ErrSessionShutdown, func() {
		connErr = s.conn.Close()
	})
	_ = s.eg.Wait()
	return multierr.Combine(goAwayErr, connErr)
}

// shutdown 进入终态，只生效一次
//
// closeConn 在关闭信号发布前执行，用于收集传输关闭错误。
func (s *Session) shutdown(reason error, closeConn func()) {
	s.shutdownOnce.Do(func() {
		s.shutdownErr.Store(reason)
		if closeConn != nil {
			closeConn()
		} else {
			_ = s.conn.Close()
		}
		close(s.shutdownCh)
		s.log.Debug("会话已关闭", "reason", reason)
	})
}

// fail 因协议错误终止会话
//
// 尽力送出对应原因码的 GoAway，然后关闭传输。
func (s *Session) fail(reason error, code frame.GoAwayCode) {
	s.log.Warn("会话协议错误", "error", reason, "code", code.String())
	// 终止信号发布前尽力直接写出 GoAway
	goAway := frame.New(frame.TypeGoAway, 0, 0, uint32(code)).Encode()
	s.shutdown(reason, func() {
		_, _ = s.conn.Write(goAway)
		_ = s.conn.Close()
	})
}

// ============================================================================
//                              接收循环
// ============================================================================

// recvLoop 从传输读取字节流，解码后投递给执行体
func (s *Session) recvLoop() error {
	var (
		catcher tec.TempErrCatcher
		buf     bytes.Buffer
		decoder = frame.Decoder{MaxPayload: s.config.InitialStreamWindow}
		chunk   = make([]byte, 32*1024)
	)

	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			for {
				f, derr := decoder.Decode(&buf)
				if derr != nil {
					if errors.Is(derr, frame.ErrNeedMoreData) {
						break
					}
					// 帧格式错误：会话失败
					s.fail(derr, frame.GoAwayProtoErr)
					return derr
				}
				select {
				case s.inboxCh <- f:
				case <-s.shutdownCh:
					return nil
				}
			}
		}
		if err != nil {
			if catcher.IsTemporary(err) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// 对端正常断开
				s.shutdown(ErrSessionShutdown, nil)
				return nil
			}
			s.shutdown(fmt.Errorf("%w: %w", ErrSessionShutdown, err), nil)
			return nil
		}
	}
}

// ============================================================================
//                              发送循环
// ============================================================================

// sendLoop 串行写出出站帧
//
// 每取到一帧后非阻塞排空通道再统一刷出，
// 使同一读批次产生的响应合并为一次传输写。
func (s *Session) sendLoop() error {
	w := bufio.NewWriterSize(s.conn, s.config.WriteBatch)

	flushErr := func(err error) error {
		s.shutdown(fmt.Errorf("%w: %w", ErrSessionShutdown, err), nil)
		return nil
	}

	for {
		select {
		case buf := <-s.outCh:
			if _, err := w.Write(buf); err != nil {
				return flushErr(err)
			}
			// 批量排空
			for drained := false; !drained; {
				select {
				case more := <-s.outCh:
					if _, err := w.Write(more); err != nil {
						return flushErr(err)
					}
				default:
					drained = true
				}
			}
			if err := w.Flush(); err != nil {
				return flushErr(err)
			}
		case <-s.shutdownCh:
			return nil
		}
	}
}

// sendFrame 执行体出站入队
func (s *Session) sendFrame(f *frame.Frame) {
	if !s.submitFrame(f) {
		s.log.Debug("会话已关闭，丢弃出站帧", "frame", f.String())
	}
}

// ============================================================================
//                              执行体
// ============================================================================

// loop 会话执行体：唯一变更会话状态的 goroutine
func (s *Session) loop() error {
	for {
		select {
		case f := <-s.inboxCh:
			if err := s.handleFrame(f); err != nil {
				s.failFromLoop(err)
				return nil
			}
		case cmd := <-s.cmdCh:
			s.handleCmd(cmd)
		case st := <-s.creditCh:
			s.harvestCredit(st)
		case <-s.shutdownCh:
			s.teardown()
			return nil
		}
	}
}

// failFromLoop 协议错误路径：通知所有等待者后终止
func (s *Session) failFromLoop(err error) {
	code := frame.GoAwayProtoErr
	if errors.Is(err, state.ErrInvalidSendTransition) || errors.Is(err, ErrStreamsExhausted) ||
		errors.Is(err, flow.ErrWindowUnderflow) {
		// 本地缺陷或资源耗尽，而不是对端违规
		code = frame.GoAwayInternalErr
	}
	s.fail(err, code)
	s.teardown()
}

// teardown 会话终态清理：终止所有流并唤醒等待者
func (s *Session) teardown() {
	reason := s.shutdownReason()
	s.machine.OnClosed()

	for id, st := range s.streams {
		s.failStream(st, reason)
		delete(s.streams, id)
	}
	s.numStreams.Store(0)

	for id, w := range s.openWaiters {
		w.result <- openResult{err: reason}
		delete(s.openWaiters, id)
	}
	for opaque, p := range s.pings {
		p.result <- pingResult{err: reason}
		delete(s.pings, opaque)
	}
	for _, q := range s.quiesce {
		q <- reason
	}
	s.quiesce = nil
}

// failStream 强制终止一条流（不发送任何帧）
func (s *Session) failStream(st *Stream, reason error) {
	for _, req := range st.writeQ {
		req.result <- reason
	}
	st.writeQ = nil
	st.setReadErr(reason, false)
	st.stateMirror.Store(uint32(state.StreamClosed))
}

// ============================================================================
//                              命令处理
// ============================================================================

func (s *Session) handleCmd(cmd sessionCmd) {
	switch c := cmd.(type) {
	case openCmd:
		s.handleOpen(c.waiter)
	case cancelOpenCmd:
		// openCmd 先于 cancelOpenCmd 入队，此时 ID 已分配
		if w, ok := s.openWaiters[c.waiter.id]; ok && w == c.waiter {
			w.cancelled = true
		}
	case writeCmd:
		s.handleWrite(c.st, c.req)
	case writeCancelCmd:
		s.handleWriteCancel(c.st, c.req, c.reply)
	case closeCmd:
		c.reply <- s.handleClose(c.st)
	case closeReadCmd:
		s.handleCloseRead(c.st)
	case resetCmd:
		c.reply <- s.handleReset(c.st)
	case pingCmd:
		s.handlePing(c.waiter)
	case goAwayCmd:
		c.reply <- s.handleGoAway(c.code)
	case quiesceCmd:
		s.handleQuiesce(c.reply)
	}
}

// handleOpen 分配流 ID 并发出 SYN
func (s *Session) handleOpen(w *openWaiter) {
	if !s.machine.CanOpenStream() {
		switch s.machine.State() {
		case state.SessionGoAwaySent:
			w.result <- openResult{err: ErrLocalGoAway}
		case state.SessionGoAwayReceived:
			w.result <- openResult{err: ErrRemoteGoAway}
		default:
			w.result <- openResult{err: ErrSessionNotOpen}
		}
		return
	}

	// ID 空间逼近 2^32-1 是致命的会话错误
	if s.nextID > math.MaxUint32-2 {
		w.result <- openResult{err: ErrStreamsExhausted}
		s.failFromLoop(ErrStreamsExhausted)
		return
	}
	id := s.nextID
	s.nextID += 2

	st := newStream(s, id, s.config.InitialStreamWindow)
	if _, err := st.machine.Send(state.EventSYN); err != nil {
		w.result <- openResult{err: err}
		return
	}
	st.mirrorState()

	w.id = id
	w.st = st
	s.streams[id] = st
	s.openWaiters[id] = w
	s.numStreams.Add(1)

	s.sendFrame(frame.New(frame.TypeWindowUpdate, frame.FlagSYN, id, 0))
	s.log.Debug("打开流", "stream", id)
}

// handleWrite 写入进入流的发送队列
func (s *Session) handleWrite(st *Stream, req *writeReq) {
	switch st.machine.State() {
	case state.StreamEstablished, state.StreamRemoteHalfClosed:
	case state.StreamReset:
		req.result <- ErrStreamReset
		return
	default:
		req.result <- ErrStreamClosed
		return
	}
	if st.finPending {
		req.result <- ErrStreamClosed
		return
	}
	st.fcOut.OnBuffer(len(req.data))
	st.writeQ = append(st.writeQ, req)
	s.drainWrites(st)
}

// handleWriteCancel 撤销写请求中未发出的部分
func (s *Session) handleWriteCancel(st *Stream, req *writeReq, reply chan int) {
	for i, queued := range st.writeQ {
		if queued == req {
			st.writeQ = append(st.writeQ[:i], st.writeQ[i+1:]...)
			st.fcOut.OnUnbuffer(len(req.data) - req.off)
			break
		}
	}
	reply <- req.off
}

// drainWrites 在窗口允许的范围内发出排队数据
//
// 单帧负载不超过 min(剩余信用, 对端通告的帧上限)。
func (s *Session) drainWrites(st *Stream) {
	maxFrame := s.peerMaxFrame.Load()
	if own := s.config.MaxFramePayload; own < maxFrame {
		maxFrame = own
	}

	for len(st.writeQ) > 0 {
		sendable := st.fcOut.Sendable()
		if sendable == 0 {
			return
		}
		if sendable > maxFrame {
			sendable = maxFrame
		}

		req := st.writeQ[0]
		chunk := len(req.data) - req.off
		if chunk > int(sendable) {
			chunk = int(sendable)
		}

		if _, err := st.machine.Send(state.EventData); err != nil {
			req.result <- err
			st.writeQ = st.writeQ[1:]
			continue
		}
		s.sendFrame(frame.NewData(0, st.id, req.data[req.off:req.off+chunk]))
		if err := st.fcOut.OnWrote(chunk); err != nil {
			s.failFromLoop(err)
			return
		}
		req.off += chunk

		if req.off == len(req.data) {
			req.result <- nil
			st.writeQ = st.writeQ[1:]
		}
	}

	if st.finPending && len(st.writeQ) == 0 {
		st.finPending = false
		s.sendFin(st)
	}
}

// sendFin 发出 FIN 并处理状态迁移
func (s *Session) sendFin(st *Stream) {
	next, err := st.machine.Send(state.EventFIN)
	if err != nil {
		return
	}
	st.mirrorState()
	s.sendFrame(frame.NewData(frame.FlagFIN, st.id, nil))
	if next == state.StreamClosed {
		s.removeStream(st, false)
	}
}

// handleClose 半关闭：排空写队列后发送 FIN
func (s *Session) handleClose(st *Stream) error {
	switch st.machine.State() {
	case state.StreamEstablished, state.StreamRemoteHalfClosed:
		if len(st.writeQ) > 0 {
			st.finPending = true
			return nil
		}
		s.sendFin(st)
		return nil
	case state.StreamSynSent, state.StreamSynReceived, state.StreamIdle:
		// 建立前关闭等价于放弃
		return s.handleReset(st)
	default:
		// 已关闭或已重置：幂等成功
		return nil
	}
}

// handleCloseRead 关闭读端：丢弃排队数据，后续入站数据静默回填
func (s *Session) handleCloseRead(st *Stream) {
	st.discard = true
	st.setReadErr(ErrStreamClosed, false)
}

// handleReset 本端强制关闭
func (s *Session) handleReset(st *Stream) error {
	if st.machine.State().Terminal() {
		return nil
	}
	if _, err := st.machine.Send(state.EventRST); err != nil {
		return err
	}
	st.mirrorState()
	s.sendFrame(frame.New(frame.TypeWindowUpdate, frame.FlagRST, st.id, 0))

	for _, req := range st.writeQ {
		req.result <- ErrStreamReset
	}
	st.writeQ = nil
	st.setReadErr(ErrStreamReset, false)

	// 对端在看到 RST 之前可能仍在发帧，进入容忍集合
	s.removeStream(st, true)
	return nil
}

// handlePing 发出心跳
func (s *Session) handlePing(w *pingWaiter) {
	w.opaque = s.nextPing
	s.nextPing++
	w.sentAt = s.clock.Now()
	s.pings[w.opaque] = w
	s.sendFrame(frame.New(frame.TypePing, 0, 0, w.opaque))
}

// handleGoAway 宣告终止
func (s *Session) handleGoAway(code frame.GoAwayCode) error {
	if s.machine.Closed() {
		return s.shutdownReason()
	}
	s.sendFrame(frame.New(frame.TypeGoAway, 0, 0, uint32(code)))
	s.machine.OnGoAwaySent()
	return nil
}

// handleQuiesce 静默收尾：FIN 所有流，全部终结后 GoAway(0)
func (s *Session) handleQuiesce(reply chan error) {
	s.machine.OnGoAwaySent() // 先停止开新流
	s.quiesce = append(s.quiesce, reply)

	for _, st := range s.streams {
		switch st.machine.State() {
		case state.StreamEstablished, state.StreamRemoteHalfClosed:
			if len(st.writeQ) > 0 {
				st.finPending = true
			} else {
				s.sendFin(st)
			}
		case state.StreamSynSent, state.StreamSynReceived:
			_ = s.handleReset(st)
		}
	}
	s.maybeFinishQuiesce()
}

// maybeFinishQuiesce 流表清空后完成收尾
func (s *Session) maybeFinishQuiesce() {
	if len(s.quiesce) == 0 || len(s.streams) > 0 {
		return
	}
	s.sendFrame(frame.New(frame.TypeGoAway, 0, 0, uint32(frame.GoAwayNormal)))
	for _, q := range s.quiesce {
		q <- nil
	}
	s.quiesce = nil
}

// harvestCredit 收割应用侧累计的消费量，按需回填窗口
func (s *Session) harvestCredit(st *Stream) {
	st.creditQueued.Store(false)
	n := st.pendingCredit.Swap(0)
	if n == 0 {
		return
	}
	if _, ok := s.streams[st.id]; !ok {
		return
	}
	s.creditStream(st, int(n))
}

// creditStream 按累计消费量发出 WindowUpdate
func (s *Session) creditStream(st *Stream, n int) {
	delta, ok := st.fcIn.Consume(n)
	if !ok {
		return
	}
	if _, err := st.machine.Send(state.EventWindowUpdate); err != nil {
		return
	}
	s.sendFrame(frame.New(frame.TypeWindowUpdate, 0, st.id, delta))
}

// removeStream 从流表移除
//
// errored 为 true 时将 ID 放入迟到帧容忍集合。
func (s *Session) removeStream(st *Stream, errored bool) {
	if _, ok := s.streams[st.id]; !ok {
		return
	}
	delete(s.streams, st.id)
	s.numStreams.Add(-1)
	if errored {
		s.errored.Add(st.id, struct{}{})
	}
	s.maybeFinishQuiesce()
}

// ============================================================================
//                              入站路由
// ============================================================================

// handleFrame 将帧展开为消息序列并逐一路由
//
// 返回的错误都是会话级失败。
func (s *Session) handleFrame(f *frame.Frame) error {
	for _, msg := range f.Messages() {
		if err := s.handleMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleMessage(msg frame.Message) error {
	switch m := msg.(type) {
	case frame.SessionOpen:
		return s.onSessionOpen(m)
	case frame.SessionOpenAck:
		return s.onSessionOpenAck(m)
	case frame.Ping:
		// 回显：ACK 加相同的不透明值
		s.sendFrame(frame.New(frame.TypePing, frame.FlagACK, 0, m.Opaque))
		return nil
	case frame.GoAway:
		return s.onGoAway(m)
	case frame.ChannelOpen:
		return s.onChannelOpen(m)
	case frame.ChannelOpenAck:
		return s.onChannelOpenAck(m)
	case frame.ChannelData:
		return s.onChannelData(m)
	case frame.ChannelWindowAdjust:
		return s.onChannelWindowAdjust(m)
	case frame.ChannelClose:
		return s.onChannelClose(m)
	case frame.ChannelReset:
		return s.onChannelReset(m)
	default:
		return fmt.Errorf("%w: unhandled message %T", ErrProtocolViolation, msg)
	}
}

// onSessionOpen 对端发起会话打开
func (s *Session) onSessionOpen(m frame.SessionOpen) error {
	if m.MaxFramePayload > 0 {
		s.peerMaxFrame.Store(m.MaxFramePayload)
	}
	s.sendFrame(frame.New(frame.TypePing, frame.FlagACK, 0, s.advertisedMaxFrame()))
	s.markOpened()
	return nil
}

// onSessionOpenAck 会话打开确认，或已打开后的心跳应答
func (s *Session) onSessionOpenAck(m frame.SessionOpenAck) error {
	if s.machine.State() == state.SessionIdle {
		if m.Opaque > 0 {
			s.peerMaxFrame.Store(m.Opaque)
		}
		s.markOpened()
		return nil
	}
	if p, ok := s.pings[m.Opaque]; ok {
		delete(s.pings, m.Opaque)
		p.result <- pingResult{rtt: s.clock.Since(p.sentAt)}
		return nil
	}
	s.log.Debug("忽略无对应请求的心跳应答", "opaque", m.Opaque)
	return nil
}

func (s *Session) markOpened() {
	s.machine.OnOpened()
	s.openedOnce.Do(func() {
		close(s.openedCh)
	})
	s.log.Debug("会话握手完成")
}

// onGoAway 对端宣告终止
func (s *Session) onGoAway(m frame.GoAway) error {
	s.machine.OnGoAwayReceived()
	if m.Code != frame.GoAwayNormal {
		s.log.Warn("对端异常终止会话", "code", m.Code.String())
	} else {
		s.log.Debug("对端终止会话")
	}
	// 所有流带会话错误关闭，随后关闭传输，不再发出任何帧
	s.shutdown(fmt.Errorf("%w: %s", ErrRemoteGoAway, m.Code), nil)
	s.teardown()
	return nil
}

// onChannelOpen 对端打开新流
func (s *Session) onChannelOpen(m frame.ChannelOpen) error {
	// 极性校验：入站 ID 的奇偶必须匹配对端角色
	peerOdd := s.server
	if odd := m.StreamID%2 == 1; odd != peerOdd {
		return fmt.Errorf("%w: inbound stream %d has wrong parity", ErrProtocolViolation, m.StreamID)
	}

	if existing, ok := s.streams[m.StreamID]; ok {
		// ID 冲突只拒绝新流，不拖垮会话
		s.log.Warn("拒绝重复的流打开", "stream", m.StreamID, "state", existing.machine.State().String())
		s.sendFrame(frame.New(frame.TypeWindowUpdate, frame.FlagRST, m.StreamID, 0))
		return nil
	}
	s.errored.Remove(m.StreamID)

	if !s.machine.CanAcceptStream() {
		s.sendFrame(frame.New(frame.TypeWindowUpdate, frame.FlagRST, m.StreamID, 0))
		s.errored.Add(m.StreamID, struct{}{})
		return nil
	}

	st := newStream(s, m.StreamID, s.config.InitialStreamWindow)
	if _, err := st.machine.Recv(state.EventSYN); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	// 裁决：显式回调或积压队列
	accepted := false
	if s.config.Acceptor != nil {
		accepted = s.config.Acceptor(st) == muxer.Accept
	} else {
		select {
		case s.acceptCh <- st:
			accepted = true
		default:
			s.log.Warn("入站流积压已满，拒绝", "stream", m.StreamID)
		}
	}

	if !accepted {
		s.sendFrame(frame.New(frame.TypeWindowUpdate, frame.FlagRST, m.StreamID, 0))
		s.errored.Add(m.StreamID, struct{}{})
		return nil
	}

	if _, err := st.machine.Send(state.EventACK); err != nil {
		return err
	}
	st.mirrorState()
	s.streams[m.StreamID] = st
	s.numStreams.Add(1)
	s.sendFrame(frame.New(frame.TypeWindowUpdate, frame.FlagACK, m.StreamID, 0))
	s.log.Debug("接受入站流", "stream", m.StreamID)
	return nil
}

// onChannelOpenAck 对端确认出站流
func (s *Session) onChannelOpenAck(m frame.ChannelOpenAck) error {
	w, ok := s.openWaiters[m.StreamID]
	if !ok {
		if st, live := s.streams[m.StreamID]; live {
			return fmt.Errorf("%w: ack for stream %d in state %s", ErrProtocolViolation, m.StreamID, st.machine.State())
		}
		if s.errored.Contains(m.StreamID) {
			return nil
		}
		return fmt.Errorf("%w: ack for unknown stream %d", ErrProtocolViolation, m.StreamID)
	}
	delete(s.openWaiters, m.StreamID)

	st := w.st
	if _, err := st.machine.Recv(state.EventACK); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	st.mirrorState()

	if w.cancelled {
		// 打开已被取消：迟到的确认触发立即 RST
		_ = s.handleReset(st)
		return nil
	}
	w.result <- openResult{st: st}
	return nil
}

// onChannelData 数据投递
func (s *Session) onChannelData(m frame.ChannelData) error {
	st, ok := s.streams[m.StreamID]
	if !ok {
		if s.errored.Contains(m.StreamID) {
			return nil
		}
		return fmt.Errorf("%w: data for unknown stream %d", ErrProtocolViolation, m.StreamID)
	}

	if _, err := st.machine.Recv(state.EventData); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	if err := st.fcIn.OnData(len(m.Payload)); err != nil {
		return fmt.Errorf("%w: %w", ErrFlowControlViolation, err)
	}

	if st.discard {
		// 读端已关：静默消费并回填
		s.creditStream(st, len(m.Payload))
		return nil
	}
	st.pushData(m.Payload)
	return nil
}

// onChannelWindowAdjust 对端授信
func (s *Session) onChannelWindowAdjust(m frame.ChannelWindowAdjust) error {
	st, ok := s.streams[m.StreamID]
	if !ok {
		if s.errored.Contains(m.StreamID) {
			return nil
		}
		return fmt.Errorf("%w: window update for unknown stream %d", ErrProtocolViolation, m.StreamID)
	}

	if _, err := st.machine.Recv(state.EventWindowUpdate); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	if err := st.fcOut.OnWindowIncrement(m.Delta); err != nil {
		return fmt.Errorf("%w: %w", ErrFlowControlViolation, err)
	}
	s.drainWrites(st)
	return nil
}

// onChannelClose 对端半关闭
func (s *Session) onChannelClose(m frame.ChannelClose) error {
	st, ok := s.streams[m.StreamID]
	if !ok {
		if s.errored.Contains(m.StreamID) {
			// 对端的收尾帧已到，容忍窗口结束
			s.errored.Remove(m.StreamID)
			return nil
		}
		return fmt.Errorf("%w: fin for unknown stream %d", ErrProtocolViolation, m.StreamID)
	}

	next, err := st.machine.Recv(state.EventFIN)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	st.mirrorState()

	// 读者排空缓冲后看到 EOF
	st.setReadErr(io.EOF, true)

	if next == state.StreamClosed {
		s.removeStream(st, false)
	}
	return nil
}

// onChannelReset 对端强制关闭
func (s *Session) onChannelReset(m frame.ChannelReset) error {
	if w, ok := s.openWaiters[m.StreamID]; ok {
		// 出站流被拒绝
		delete(s.openWaiters, m.StreamID)
		if _, err := w.st.machine.Recv(state.EventRST); err == nil {
			w.st.mirrorState()
		}
		s.removeStream(w.st, false)
		if !w.cancelled {
			w.result <- openResult{err: ErrStreamRejected}
		}
		return nil
	}

	st, ok := s.streams[m.StreamID]
	if !ok {
		if s.errored.Contains(m.StreamID) {
			s.errored.Remove(m.StreamID)
			return nil
		}
		return fmt.Errorf("%w: rst for unknown stream %d", ErrProtocolViolation, m.StreamID)
	}

	if _, err := st.machine.Recv(state.EventRST); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	st.mirrorState()

	for _, req := range st.writeQ {
		req.result <- ErrStreamReset
	}
	st.writeQ = nil
	st.setReadErr(ErrStreamReset, false)
	s.removeStream(st, false)
	return nil
}
