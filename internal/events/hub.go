package events

import (
	"sync"
	"sync/atomic"

	"statuswatch/internal/logger"
	"statuswatch/internal/metrics"
)

// defaultSubscriberBuffer 每个订阅者的缓冲大小
const defaultSubscriberBuffer = 64

// Hub 进程内广播器
// 订阅者缓冲已满时直接丢弃该订阅者的本条消息，不阻塞发布方
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

// Subscription 一个订阅；C 在取消订阅或 Hub 关闭后被关闭
type Subscription struct {
	C <-chan Envelope

	id      uint64
	ch      chan Envelope
	hub     *Hub
	once    sync.Once
	dropped atomic.Uint64
}

// NewHub 创建广播器；buffer <= 0 时使用默认值
func NewHub(buffer int, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:    make(map[uint64]*Subscription),
		buffer:  buffer,
		metrics: m,
	}
}

// Subscribe 注册订阅者；Hub 已关闭时返回已关闭的订阅
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Envelope, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.once.Do(func() { close(ch) })
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	return sub
}

// Publish 广播一条消息
func (h *Hub) Publish(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	for _, sub := range h.subs {
		select {
		case sub.ch <- env:
		default:
			if sub.dropped.Add(1) == 1 {
				logger.Warn("hub", "订阅者缓冲已满，丢弃消息", "subscriber", sub.id)
			}
		}
	}
}

// Len 返回当前订阅者数量
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 关闭广播器并关闭所有订阅（幂等）
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.closeChannel()
	}
	h.metrics.SetSubscribers(0)
}

// Unsubscribe 取消订阅（幂等）
func (s *Subscription) Unsubscribe() {
	h := s.hub
	h.mu.Lock()
	_, ok := h.subs[s.id]
	delete(h.subs, s.id)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.metrics.SetSubscribers(n)
	}
	s.closeChannel()
}

// Dropped 返回因缓冲已满被丢弃的消息数
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// closeChannel 调用方需保证此时没有并发 Publish 写入该订阅（已从 subs 移除且持有过写锁）
func (s *Subscription) closeChannel() {
	s.once.Do(func() { close(s.ch) })
}
