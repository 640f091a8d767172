// Package push は接続中のクライアントへ通知をリアルタイムに配信するための
// ユーザー単位のセッションレジストリを提供する。
//
// Hubはプロセス内メモリのみで状態を保持し、永続化は行わない。
// 配信はベストエフォートであり、取りこぼした通知はストア側から再取得する前提。
package push

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_events_delivered_total",
		Help: "Events handed to an open push session.",
	})
	mDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_events_dropped_total",
		Help: "Events dropped because a session buffer was full.",
	})
	mSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "push_sessions_open",
		Help: "Currently registered push sessions.",
	})
)

// DefaultBuffer はバッファ数が指定されなかった場合のセッションごとの送信バッファ数。
const DefaultBuffer = 16

// Event はセッションへ配信するイベント。
// Nameは SSE の "event:" 名、ID は "id:" 行、Data はJSONにシリアライズ可能な任意の値。
type Event struct {
	Name string
	ID   string
	Data any
}

// Session はあるユーザーの1接続（ブラウザのタブ等）を表す。
type Session struct {
	id     uint64
	userID int64
	events chan Event
	// closed はHubのロック下でのみ更新される。
	closed bool
}

// ID はHub内で一意なセッション識別子を返す。
func (s *Session) ID() uint64 { return s.id }

// UserID はセッションの所有ユーザーIDを返す。
func (s *Session) UserID() int64 { return s.userID }

// Events は配信されたイベントを受け取るチャネルを返す。
// 購読解除またはHubのClose後にクローズされる。
func (s *Session) Events() <-chan Event { return s.events }

// Hub はユーザーIDごとに接続中のセッション集合を管理する。
// セッション集合を変更するのは Subscribe / Unsubscribe / Close のみ。
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[uint64]*Session
	buffer   int
	nextID   atomic.Uint64
}

// NewHub は新しいHubを生成する。bufferが0以下の場合はDefaultBufferを使う。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		sessions: make(map[int64]map[uint64]*Session),
		buffer:   buffer,
	}
}

// Subscribe はユーザーの新しいセッションを登録する。
// 同一ユーザーが複数のセッションを同時に持つことができる。
func (h *Hub) Subscribe(userID int64) *Session {
	s := &Session{
		id:     h.nextID.Add(1),
		userID: userID,
		events: make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[userID]
	if !ok {
		set = make(map[uint64]*Session)
		h.sessions[userID] = set
	}
	set[s.id] = s
	mSessions.Inc()
	return s
}

// Unsubscribe はセッションの登録を解除し、イベントチャネルをクローズする。
// ユーザー最後のセッションであればユーザーのエントリ自体を削除する。
// 複数回呼び出しても安全。
func (h *Hub) Unsubscribe(s *Session) {
	if s == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
	mSessions.Dec()

	set, ok := h.sessions[s.userID]
	if !ok {
		return
	}
	delete(set, s.id)
	if len(set) == 0 {
		delete(h.sessions, s.userID)
	}
}

// Publish はユーザーの全セッションへイベントを送信し、受け渡せたセッション数を返す。
// バッファが埋まっている遅いセッションには送らず、未接続のユーザーには何もしない。
func (h *Hub) Publish(userID int64, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, s := range h.sessions[userID] {
		select {
		case s.events <- ev:
			delivered++
			mDelivered.Inc()
		default:
			mDropped.Inc()
		}
	}
	return delivered
}

// Sessions はユーザーの接続中セッション数を返す。
func (h *Hub) Sessions(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Users は1つ以上のセッションを持つユーザー数を返す。
func (h *Hub) Users() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close は全セッションを解除する。シャットダウン時に接続中のストリームを終了させる。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, set := range h.sessions {
		for _, s := range set {
			if !s.closed {
				s.closed = true
				close(s.events)
				mSessions.Dec()
			}
		}
		delete(h.sessions, userID)
	}
}
