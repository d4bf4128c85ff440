package yamux

import (
	"errors"
	"sync"
	"time"
)

// 心跳保活
//
// 周期性发送 Ping 探测连接活性：
// - 应答超时计为一次丢失
// - 连续丢失达到上限判定连接死亡，会话以 ErrKeepAliveTimeout 关闭
// - 任何一次成功应答清零丢失计数

// HeartbeatStats 心跳统计
type HeartbeatStats struct {
	// Sent 已发送的心跳数
	Sent int

	// Missed 当前连续丢失次数
	Missed int

	// LastLatency 最近一次成功心跳的往返时延
	LastLatency time.Duration

	// LastSeen 最近一次成功应答的时间
	LastSeen time.Time
}

// heartbeatState 保活状态，由 keepalive goroutine 独占变更
type heartbeatState struct {
	mu    sync.RWMutex
	stats HeartbeatStats
}

func (h *heartbeatState) record(latency time.Duration, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.Missed = 0
	h.stats.LastLatency = latency
	h.stats.LastSeen = at
}

func (h *heartbeatState) miss() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.Missed++
	return h.stats.Missed
}

func (h *heartbeatState) sent() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.Sent++
}

func (h *heartbeatState) snapshot() HeartbeatStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// HeartbeatStats 返回保活统计信息
func (s *Session) HeartbeatStats() HeartbeatStats {
	return s.heartbeat.snapshot()
}

// keepalive 保活循环
func (s *Session) keepalive() error {
	ticker := s.clock.Ticker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.heartbeat.sent()
			rtt, err := s.Ping()
			if err != nil {
				if errors.Is(err, ErrSessionShutdown) || s.IsClosed() {
					return nil
				}
				missed := s.heartbeat.miss()
				s.log.Debug("心跳超时", "missed", missed)
				if missed >= s.config.MaxMissedPings {
					s.log.Warn("连接心跳失败", "maxMissed", s.config.MaxMissedPings)
					s.shutdown(ErrKeepAliveTimeout, nil)
					return nil
				}
				continue
			}
			s.heartbeat.record(rtt, s.clock.Now())
		case <-s.shutdownCh:
			return nil
		}
	}
}
