package telegram

import "sync"

// History keeps the latest inbound texts per chat, newest last.
// The Bot API has no history endpoint, so the router records what it sees.
type History struct {
	size  int
	mu    sync.RWMutex
	chats map[int64][]string
}

// NewHistory creates a buffer keeping up to size texts per chat.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 10
	}
	return &History{size: size, chats: make(map[int64][]string)}
}

// Record appends text to the chat's buffer, evicting the oldest entry when full.
func (h *History) Record(chatID int64, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := append(h.chats[chatID], text)
	if len(buf) > h.size {
		buf = append(buf[:0:0], buf[len(buf)-h.size:]...)
	}
	h.chats[chatID] = buf
}

// Recent returns up to limit texts for a chat, newest first.
func (h *History) Recent(chatID int64, limit int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	buf := h.chats[chatID]
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	res := make([]string, 0, limit)
	for i := len(buf) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, buf[i])
	}
	return res
}

// Forget drops the chat's buffer.
func (h *History) Forget(chatID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.chats, chatID)
}

func (h *History) chatCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats)
}
