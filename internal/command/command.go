// Package command answers the chat commands sent to the bot.
package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"salesbot/internal/chat"
	"salesbot/internal/credential"
	"salesbot/internal/logbus"
	"salesbot/internal/notify"
	"salesbot/internal/sales"
)

const (
	cmdHelp     = "!help"
	cmdGroup    = "!getgrupo"
	cmdList     = "!getvendas"
	cmdDetail   = "!vervenda"
	defaultList = 5
)

const (
	textHelpList    = "getvendas AMOUNT - List the latest sales."
	textHelpDetail  = "vervenda #ORDER - Show the details of a sale."
	textGroupOnly   = "This command only works in groups."
	textGroupID     = "This group's ID is: %s"
	textListing     = "Fetching sales..."
	textNoSales     = "No sales found."
	textListFailed  = "Error fetching sales."
	textLoading     = "Fetching sale details..."
	textUsage       = "Usage: !vervenda ORDERNUMBER"
	textOrderFailed = "Error fetching this order."
)

var ErrUsage = errors.New("invalid command usage")

// ReplyFunc sends one reply to the message being handled.
type ReplyFunc func(text string)

type Options struct {
	Chat         chat.Client
	Source       sales.OrderSource
	Credentials  credential.Provider
	SellerID     string
	Format       notify.Formatter
	Bus          *logbus.Bus
	// CallTimeout bounds the marketplace work behind one command.
	CallTimeout  time.Duration
	// ReplyTimeout bounds each reply sent through Chat.
	ReplyTimeout time.Duration
}

type Interpreter struct {
	chat     chat.Client
	source   sales.OrderSource
	creds    credential.Provider
	sellerID string
	format   notify.Formatter
	bus      *logbus.Bus
	timeout  time.Duration
	replyTTL time.Duration
}

func New(opts Options) *Interpreter {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	replyTTL := opts.ReplyTimeout
	if replyTTL <= 0 {
		replyTTL = 15 * time.Second
	}
	return &Interpreter{
		chat:     opts.Chat,
		source:   opts.Source,
		creds:    opts.Credentials,
		sellerID: opts.SellerID,
		format:   opts.Format,
		bus:      opts.Bus,
		timeout:  timeout,
		replyTTL: replyTTL,
	}
}

// Run handles message events one at a time until ctx is done or events is
// closed. Other event types are ignored.
func (in *Interpreter) Run(ctx context.Context, events <-chan chat.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type != chat.EventMessage {
				continue
			}
			msg := evt.Message
			in.Handle(ctx, msg, func(text string) {
				in.reply(ctx, msg, text)
			})
		}
	}
}

func (in *Interpreter) reply(ctx context.Context, msg chat.Message, text string) {
	ctx, cancel := context.WithTimeout(ctx, in.replyTTL)
	defer cancel()
	if err := in.chat.Reply(ctx, msg, text); err != nil {
		in.bus.Log("warn", "command reply failed", map[string]any{
			"chatId": msg.ChatID,
			"error":  err.Error(),
		})
	}
}

// Handle interprets msg and reports whether it was a command. Every reply
// goes through reply, acknowledgements first.
func (in *Interpreter) Handle(ctx context.Context, msg chat.Message, reply ReplyFunc) bool {
	switch msg.Body {
	case cmdHelp:
		reply(textHelpList)
		reply(textHelpDetail)
		return true
	case cmdGroup:
		if !msg.IsGroup {
			reply(textGroupOnly)
			return true
		}
		reply(fmt.Sprintf(textGroupID, msg.ChatID))
		return true
	}

	fields := strings.Fields(msg.Body)
	switch {
	// Any text starting with !getvendas lists sales; only a separate second
	// word is read as the count.
	case strings.HasPrefix(msg.Body, cmdList):
		in.bus.Log("info", "command received", map[string]any{"command": cmdList, "chatId": msg.ChatID})
		in.listSales(ctx, msg, fields[1:], reply)
		return true
	case len(fields) > 0 && fields[0] == cmdDetail:
		in.bus.Log("info", "command received", map[string]any{"command": cmdDetail, "chatId": msg.ChatID})
		in.showSale(ctx, fields[1:], reply)
		return true
	}
	return false
}

func (in *Interpreter) listSales(ctx context.Context, msg chat.Message, args []string, reply ReplyFunc) {
	if !msg.IsGroup {
		reply(textGroupOnly)
		return
	}
	limit := parseLimit(args)
	reply(textListing)

	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	cred, err := in.creds.Credential(ctx)
	if err != nil {
		in.fail("list sales", err)
		reply(textListFailed)
		return
	}
	orders, err := in.source.SearchPaidOrders(ctx, cred, in.sellerID)
	if err != nil {
		in.fail("list sales", err)
		reply(textListFailed)
		return
	}
	if len(orders) == 0 {
		reply(textNoSales)
		return
	}
	latest := slices.Clone(orders)
	slices.Reverse(latest)
	if len(latest) > limit {
		latest = latest[:limit]
	}
	reply(in.format.FormatSalesList(latest))
}

func (in *Interpreter) showSale(ctx context.Context, args []string, reply ReplyFunc) {
	orderID, err := parseOrderID(args)
	if err != nil {
		reply(textUsage)
		return
	}
	reply(textLoading)

	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	cred, err := in.creds.Credential(ctx)
	if err != nil {
		in.fail("show sale", err)
		reply(textOrderFailed)
		return
	}
	order, err := in.source.GetOrder(ctx, cred, orderID)
	if err != nil {
		in.fail("show sale", err)
		reply(textOrderFailed)
		return
	}
	sale := sales.Enrich(ctx, order, sales.LookupWith(in.source, cred), in.bus)
	reply(in.format.FormatSaleDetail(sale))
}

func (in *Interpreter) fail(op string, err error) {
	in.bus.Log("error", "command failed", map[string]any{
		"op":    op,
		"error": err.Error(),
	})
}

// parseLimit falls back to the default for a missing, non-numeric or
// non-positive count.
func parseLimit(args []string) int {
	if len(args) == 0 {
		return defaultList
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return defaultList
	}
	return n
}

func parseOrderID(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: %s needs an order number", ErrUsage, cmdDetail)
	}
	id := strings.TrimPrefix(args[0], "#")
	if id == "" {
		return "", fmt.Errorf("%w: empty order number", ErrUsage)
	}
	return id, nil
}
