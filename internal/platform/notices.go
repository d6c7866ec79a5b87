package platform

import (
	"log/slog"
	"sync"
	"time"
)

const defaultNoticeBacklog = 50

type Notice struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Notices queues short user-facing messages until the UI drains them. When
// the backlog is full the oldest notice is dropped.
type Notices struct {
	mu    sync.Mutex
	items []Notice
	max   int
	now   func() time.Time
}

func NewNotices(max int) *Notices {
	if max <= 0 {
		max = defaultNoticeBacklog
	}
	return &Notices{max: max, now: time.Now}
}

func (n *Notices) Notify(text string) {
	slog.Info("User notice", "text", text)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Notice{Time: n.now(), Text: text})
	if over := len(n.items) - n.max; over > 0 {
		n.items = append(n.items[:0:0], n.items[over:]...)
	}
}

// Drain returns and clears the pending notices.
func (n *Notices) Drain() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.items
	n.items = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}
