package display

import (
	"sync"

	"github.com/Elon-Abulafia/PipeRT/message"
)

// hub fans the newest displayed frame out to every viewer. Each subscriber
// holds at most one pending frame; a slow viewer skips frames instead of
// stalling the others.
type hub struct {
	mu     sync.Mutex
	subs   map[chan *message.Message]struct{}
	latest *message.Message
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan *message.Message]struct{})}
}

// subscribe returns a channel receiving frames, primed with the newest one.
// The channel is closed by unsubscribe or close; ok is false once closed.
func (h *hub) subscribe() (ch chan *message.Message, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false
	}
	ch = make(chan *message.Message, 1)
	if h.latest != nil {
		ch <- h.latest
	}
	h.subs[ch] = struct{}{}
	return ch, true
}

func (h *hub) unsubscribe(ch chan *message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// publish delivers msg to every subscriber and returns how many frames were
// skipped by slow viewers
func (h *hub) publish(msg *message.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0
	}
	h.latest = msg

	skipped := 0
	for ch := range h.subs {
		select {
		case ch <- msg:
			continue
		default:
		}
		select {
		case <-ch:
			skipped++
		default:
		}
		select {
		case ch <- msg:
		default:
			skipped++
		}
	}
	return skipped
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// close ends every subscription so streaming handlers return
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
