// Package chat describes the messaging client the bot talks through.
package chat

import "context"

type EventType string

const (
	EventQR      EventType = "qr"
	EventReady   EventType = "ready"
	EventMessage EventType = "message_create"
	EventClosed  EventType = "disconnected"
)

type Message struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	ChatID  string `json:"chatId"`
	IsGroup bool   `json:"isGroup"`
	FromMe  bool   `json:"fromMe,omitempty"`
}

type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"isGroup"`
}

type Event struct {
	Type    EventType
	QRCode  string
	Message Message
}

type Client interface {
	Events() <-chan Event
	GetChat(ctx context.Context, chatID string) (Chat, error)
	SendText(ctx context.Context, chatID, text string) error
	Reply(ctx context.Context, to Message, text string) error
}
