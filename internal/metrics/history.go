package metrics

import "sync"

// History は上限付きのスナップショット履歴
// 上限を超えると最も古いものから捨てる
type History struct {
	mu    sync.RWMutex
	buf   []Snapshot
	start int
	size  int
}

// NewHistory は履歴を作成する
// capacity が 0 以下の場合は DefaultHistorySize を使う
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]Snapshot, capacity)}
}

// Append はスナップショットを追加する
func (h *History) Append(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = s
		h.size++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshots は古い順に並べたコピーを返す
func (h *History) Snapshots() []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Snapshot, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Latest は最新のスナップショットを返す
func (h *History) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return Snapshot{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

// Len は保持している件数を返す
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap は上限を返す
func (h *History) Cap() int {
	return len(h.buf)
}

// Clear は履歴を空にする
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.start = 0
	h.size = 0
}
