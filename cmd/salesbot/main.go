package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"salesbot/internal/chat"
	"salesbot/internal/chat/gateway"
	"salesbot/internal/command"
	"salesbot/internal/config"
	"salesbot/internal/credential"
	"salesbot/internal/httpapi"
	"salesbot/internal/logbus"
	"salesbot/internal/marketplace"
	"salesbot/internal/notify"
	"salesbot/internal/poller"
	"salesbot/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bus := logbus.New(200)
	bus.SetOutput(os.Stdout)
	bus.SetMinLevel(cfg.Log.Level)
	bus.Log("info", "salesbot starting", map[string]any{
		"addr":     cfg.Server.Addr,
		"sellerId": cfg.Marketplace.SellerID,
		"groupId":  cfg.Chat.GroupID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	market := marketplace.New(cfg.Marketplace, bus)

	var (
		creds      credential.Provider
		refreshing *credential.Refreshing
	)
	if cfg.Marketplace.UsesStaticToken() {
		creds = credential.NewStatic(cfg.Marketplace.StaticToken)
		bus.Log("info", "using static marketplace token", nil)
	} else {
		var tokens credential.TokenStore = credential.NewFileStore(cfg.Storage.TokenFile)
		if cfg.Storage.TokenBackend == config.TokenBackendSQLite {
			tokens = store
		}
		refreshing = credential.NewRefreshing(credential.RefreshingOptions{
			API:          market,
			Store:        tokens,
			Bus:          bus,
			ClientID:     cfg.Marketplace.ClientID,
			ClientSecret: cfg.Marketplace.ClientSecret,
			RefreshToken: cfg.Marketplace.RefreshToken,
			OnRefresh: func(ok bool, err error) {
				if ok {
					bus.Log("info", "marketplace token refreshed", nil)
					return
				}
				bus.Log("error", "marketplace token refresh failed", map[string]any{"error": err.Error()})
			},
		})
		creds = refreshing
	}

	client := gateway.New(gateway.Options{
		URL:            cfg.Chat.GatewayURL,
		ReconnectDelay: cfg.Chat.ReconnectDelay(),
		Bus:            bus,
	})
	format := notify.NewFormatter(cfg.Display.Location(), cfg.Display.CurrencyPrefix)

	notifiers := notify.Multi{
		notify.NewRecorder(
			notify.NewChatNotifier(client, cfg.Chat.GroupID, format, bus, cfg.Chat.SendTimeout()),
			store, "chat", bus),
	}
	var mailer *notify.EmailNotifier
	if cfg.Email.Enabled {
		window := time.Duration(cfg.Email.SummaryWindowSec) * time.Second
		mailer, err = notify.NewEmailNotifier(cfg.Email, format, bus, window)
		if err != nil {
			log.Fatalf("email notifier: %v", err)
		}
		notifiers = append(notifiers, notify.NewRecorder(mailer, store, "email", bus))
	}

	poll := poller.New(poller.Options{
		Source:      market,
		Credentials: creds,
		Notifier:    notifiers,
		Bus:         bus,
		SellerID:    cfg.Marketplace.SellerID,
	})
	interp := command.New(command.Options{
		Chat:         client,
		Source:       market,
		Credentials:  creds,
		SellerID:     cfg.Marketplace.SellerID,
		Format:       format,
		Bus:          bus,
		ReplyTimeout: cfg.Chat.SendTimeout(),
	})

	var chatReady atomic.Bool
	api := httpapi.New(httpapi.Options{
		Cfg:       cfg,
		Bus:       bus,
		Poller:    poll,
		Sales:     store,
		ChatReady: chatReady.Load,
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.Run(ctx)
	}()

	commands := make(chan chat.Event, 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		interp.Run(ctx, commands)
	}()

	var startOnce sync.Once
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(commands)
		for evt := range client.Events() {
			switch evt.Type {
			case chat.EventQR:
				gateway.RenderQR(os.Stdout, evt.QRCode)
			case chat.EventReady:
				chatReady.Store(true)
				bus.Log("info", "chat client ready", nil)
				startOnce.Do(func() {
					onReady(ctx, bus, client, cfg.Chat.GroupID, refreshing)
					wg.Add(1)
					go func() {
						defer wg.Done()
						poll.Run(ctx)
					}()
				})
			case chat.EventClosed:
				chatReady.Store(false)
			case chat.EventMessage:
				select {
				case commands <- evt:
				default:
					bus.Log("warn", "command backlog full, message dropped", map[string]any{"chatId": evt.Message.ChatID})
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		bus.Log("info", "shutdown signal received", nil)
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			bus.Log("error", "http server error", map[string]any{"error": err.Error()})
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	wg.Wait()
	if mailer != nil {
		_ = mailer.Close(shutdownCtx)
	}
	bus.Log("info", "salesbot stopped", nil)
}

// onReady refreshes the token once and checks that the destination chat
// resolves. Neither failure stops the bot; the poller retries every tick.
func onReady(ctx context.Context, bus *logbus.Bus, client chat.Client, groupID string, refreshing *credential.Refreshing) {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if refreshing != nil {
		if _, err := refreshing.Refresh(callCtx); err != nil {
			bus.Log("warn", "startup token refresh failed", map[string]any{"error": err.Error()})
		}
	}
	group, err := client.GetChat(callCtx, groupID)
	if err != nil {
		bus.Log("warn", "destination chat lookup failed", map[string]any{"chatId": groupID, "error": err.Error()})
		return
	}
	if !group.IsGroup {
		bus.Log("warn", "destination chat is not a group", map[string]any{"chatId": groupID})
	}
	bus.Log("info", "sales notifications go to chat", map[string]any{"chatId": group.ID, "name": group.Name})
}
