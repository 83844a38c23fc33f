// Package gateway implements chat.Client over a websocket connection to a
// chat bridge that owns the paired messaging session.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"salesbot/internal/chat"
	"salesbot/internal/logbus"
)

var ErrNotConnected = errors.New("chat gateway not connected")

const (
	pingInterval = 30 * time.Second
	writeWait    = 5 * time.Second
)

type frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type qrData struct {
	Code string `json:"code"`
}

type sendReq struct {
	ChatID   string `json:"chatId"`
	Text     string `json:"text"`
	QuotedID string `json:"quotedId,omitempty"`
}

type getChatReq struct {
	ChatID string `json:"chatId"`
}

type result struct {
	data json.RawMessage
	err  error
}

type Options struct {
	URL            string
	Header         http.Header
	ReconnectDelay time.Duration
	Bus            *logbus.Bus
}

type Client struct {
	url            string
	header         http.Header
	reconnectDelay time.Duration
	bus            *logbus.Bus
	dialer         *websocket.Dialer

	events chan chat.Event

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan result

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Client{
		url:            opts.URL,
		header:         opts.Header,
		reconnectDelay: delay,
		bus:            opts.Bus,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events:         make(chan chat.Event, 256),
		pending:        make(map[string]chan result),
	}
}

func (c *Client) Events() <-chan chat.Event {
	return c.events
}

// Run keeps a session with the bridge open until ctx is done, reconnecting
// after a fixed delay. The events channel is closed when Run returns.
func (c *Client) Run(ctx context.Context) {
	defer close(c.events)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		c.bus.Log("warn", "chat gateway disconnected", map[string]any{
			"error":   errString(err),
			"retryIn": c.reconnectDelay.String(),
		})
		c.emit(chat.Event{Type: chat.EventClosed})

		t := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.bus.Log("info", "chat gateway connected", map[string]any{"url": c.url})

	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		c.conn = nil
		pending := c.pending
		c.pending = make(map[string]chan result)
		c.mu.Unlock()
		for _, ch := range pending {
			ch <- result{err: ErrNotConnected}
		}
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go c.pingLoop(conn, done)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Type {
	case "qr":
		var d qrData
		if err := json.Unmarshal(f.Data, &d); err != nil || d.Code == "" {
			return
		}
		c.emit(chat.Event{Type: chat.EventQR, QRCode: d.Code})
	case "ready":
		c.emit(chat.Event{Type: chat.EventReady})
	case "message_create":
		var m chat.Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			c.bus.Log("warn", "chat gateway sent malformed message", map[string]any{"error": err.Error()})
			return
		}
		c.emit(chat.Event{Type: chat.EventMessage, Message: m})
	case "result":
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if !ok {
			return
		}
		if f.Error != "" {
			ch <- result{err: errors.New(f.Error)}
			return
		}
		ch <- result{data: f.Data}
	default:
		c.bus.Log("debug", "chat gateway frame ignored", map[string]any{"type": f.Type})
	}
}

func (c *Client) emit(evt chat.Event) {
	select {
	case c.events <- evt:
	default:
		c.bus.Log("warn", "chat event dropped: queue full", map[string]any{"type": string(evt.Type)})
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) GetChat(ctx context.Context, chatID string) (chat.Chat, error) {
	data, err := c.call(ctx, "get_chat", getChatReq{ChatID: chatID})
	if err != nil {
		return chat.Chat{}, err
	}
	var out chat.Chat
	if err := json.Unmarshal(data, &out); err != nil {
		return chat.Chat{}, fmt.Errorf("decode chat: %w", err)
	}
	return out, nil
}

func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	_, err := c.call(ctx, "send", sendReq{ChatID: chatID, Text: text})
	return err
}

func (c *Client) Reply(ctx context.Context, to chat.Message, text string) error {
	_, err := c.call(ctx, "send", sendReq{ChatID: to.ChatID, Text: text, QuotedID: to.ID})
	return err
}

func (c *Client) call(ctx context.Context, typ string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ch := make(chan result, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(frame{Type: typ, ID: id, Data: data})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
