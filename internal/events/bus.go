package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// Bus は購読者ごとのバッファ付きチャネルへイベントを配る
// 配送はブロックせず、溢れた分は Dropped に数える
type Bus struct {
	mu     sync.RWMutex
	subs   map[<-chan Event]chan Event
	size   int
	closed bool

	dropped atomic.Uint64
}

func NewBus() *Bus {
	return NewBusWithBuffer(defaultBufferSize)
}

// NewBusWithBuffer は購読チャネルの容量を指定して作成する
func NewBusWithBuffer(size int) *Bus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Bus{subs: make(map[<-chan Event]chan Event), size: size}
}

// Subscribe は購読チャネルを返す
// Close 後に呼ぶと閉じたチャネルを返す
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.size)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
	} else {
		b.subs[ch] = ch
	}
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じる
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(sub)
	}
}

// Publish は全購読者へ送る
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped はバッファ溢れで捨てた配送数を返す
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close は全購読チャネルを閉じ、以後の購読を閉じたチャネルにする
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for key, sub := range b.subs {
		delete(b.subs, key)
		close(sub)
	}
}
