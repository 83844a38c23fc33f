package logbus

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// Bus keeps the most recent messages in a ring buffer, fans them out to
// subscribers and, when an output is set, echoes log lines as JSON.
type Bus struct {
	mu       sync.RWMutex
	buf      []Message
	cap      int
	subs     map[chan Message]struct{}
	closed   bool
	out      io.Writer
	minLevel int
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		cap:  capacity,
		buf:  make([]Message, 0, capacity),
		subs: make(map[chan Message]struct{}),
	}
}

func (b *Bus) SetOutput(w io.Writer) {
	b.mu.Lock()
	b.out = w
	b.mu.Unlock()
}

// SetMinLevel drops log messages below level; unknown levels mean "info".
func (b *Bus) SetMinLevel(level string) {
	rank, ok := levelRank[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		rank = levelRank["info"]
	}
	b.mu.Lock()
	b.minLevel = rank
	b.mu.Unlock()
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.buf = nil
}

func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs != nil {
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) < b.cap {
		b.buf = append(b.buf, msg)
	} else if b.cap > 0 {
		copy(b.buf, b.buf[1:])
		b.buf[b.cap-1] = msg
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	out := b.out
	b.mu.Unlock()

	if out != nil && typ == "log" {
		line, err := json.Marshal(msg)
		if err == nil {
			_, _ = out.Write(append(line, '\n'))
		}
	}
}

// Log is safe to call on a nil *Bus.
func (b *Bus) Log(level, message string, fields map[string]any) {
	if b == nil {
		return
	}
	level = strings.ToLower(level)
	b.mu.RLock()
	minRank := b.minLevel
	b.mu.RUnlock()
	if rank, ok := levelRank[level]; ok && rank < minRank {
		return
	}
	b.Publish("log", LogData{Level: level, Msg: message, Fields: fields})
}
