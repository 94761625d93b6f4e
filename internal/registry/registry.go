package registry

import (
	"encoding/json"
	"sync"

	"github.com/LikhitaMagar01/Zync/internal/metrics"
)

const (
	// DefaultQueueCap 是单个离线用户的最大待投递消息数，超出时丢最旧的一条。
	DefaultQueueCap = 256
	// 通道缓冲必须大于队列上限，保证 Open 时整个队列能一次性刷入新通道。
	chanSlack = 8
)

// Registry 维护用户 id 到其实时推送通道的映射，以及离线用户的待投递队列。
// 所有字段都在同一把锁下修改，替换连接和刷队列对并发 Deliver 是原子的。
type Registry struct {
	mu       sync.Mutex
	conns    map[uint]chan []byte
	queues   map[uint][][]byte
	queueCap int
}

func New(queueCap int) *Registry {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	return &Registry{
		conns:    make(map[uint]chan []byte),
		queues:   make(map[uint][][]byte),
		queueCap: queueCap,
	}
}

type connectedEvent struct {
	Type   string `json:"type"`
	UserID uint   `json:"userId"`
}

// Open 为 userID 注册一条新的推送通道，同一用户后注册的连接会顶掉之前的。
// 注册的同时把该用户的离线队列按 FIFO 顺序刷进新通道并清空，
// 并先推一条 connected 确认事件。返回的通道被关闭即代表连接已被替换或判死。
func (r *Registry) Open(userID uint) <-chan []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[userID]; ok {
		close(old)
		metrics.SseConnections.Dec()
	}

	ch := make(chan []byte, r.queueCap+chanSlack)
	if b, err := json.Marshal(connectedEvent{Type: "connected", UserID: userID}); err == nil {
		ch <- b
	}
	for _, m := range r.queues[userID] {
		ch <- m
	}
	delete(r.queues, userID)

	r.conns[userID] = ch
	metrics.SseConnections.Inc()
	return ch
}

// Close 注销 userID 的通道。幂等：重复关闭或关闭未注册的 id 都是 no-op。
// 只有 ch 仍是当前注册的通道时才生效，被顶掉的旧连接不会误删后来者。
func (r *Registry) Close(userID uint, ch <-chan []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[userID]
	if !ok || (<-chan []byte)(cur) != ch {
		return
	}
	delete(r.conns, userID)
	close(cur)
	metrics.SseConnections.Dec()
}

// Deliver 把 payload 投递给 userID：有活跃通道就直接写；写不进去视为连接已死，
// 摘掉注册并降级为排队。没有连接则进入有界队列，满了丢最旧的一条。
func (r *Registry) Deliver(userID uint, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.conns[userID]; ok {
		select {
		case ch <- payload:
			metrics.MessagesDeliveredTotal.Inc()
			return
		default:
			delete(r.conns, userID)
			close(ch)
			metrics.SseConnections.Dec()
		}
	}

	q := append(r.queues[userID], payload)
	if len(q) > r.queueCap {
		q = q[1:]
		metrics.MessagesDroppedTotal.Inc()
	}
	r.queues[userID] = q
	metrics.MessagesQueuedTotal.Inc()
}

// Active 返回 userID 当前是否有注册的连接，仅用于尽力而为的在线状态展示。
func (r *Registry) Active(userID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}

// ListActive 返回当前在线用户 id 的快照。
func (r *Registry) ListActive() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// QueueLen 返回 userID 当前排队的消息数，测试和指标用。
func (r *Registry) QueueLen(userID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[userID])
}
