// ABOUTME: Wires the socket, router, tool dispatcher, chat client and session together
// ABOUTME: Opens the configured store: SQLite on disk, or memory when database.path is empty

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/seneschal/internal/chat"
	"github.com/2389/seneschal/internal/config"
	"github.com/2389/seneschal/internal/dedupe"
	"github.com/2389/seneschal/internal/session"
	"github.com/2389/seneschal/internal/socket"
	"github.com/2389/seneschal/internal/store"
	"github.com/2389/seneschal/internal/tools"
)

// app holds the running components of one chat process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store       store.Store
	manager     *socket.Manager
	broadcaster *chat.Broadcaster
	dispatcher  *chat.Dispatcher
	cache       *dedupe.Cache
	tools       *tools.Registry
	client      *chat.Client
	session     *session.Session
}

// hooks lets the UI react to connection events.
type hooks struct {
	onReconnect           func()
	onPermanentDisconnect func()
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.Path == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSQLiteStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

// newApp builds every component. Nothing connects until connect is called.
func newApp(cfg *config.Config, logger *slog.Logger, ui chat.Handler, h hooks) (*app, error) {
	st, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(logger)
	for _, pack := range []*tools.Pack{tools.DicePack(nil), tools.NotesPack(st)} {
		if err := registry.RegisterPack(pack); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("registering tools: %w", err)
		}
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		broadcaster: chat.NewBroadcaster(logger),
		cache:       dedupe.New(cfg.Tools.ResultCacheTTL, cfg.Tools.ResultCacheSize),
		tools:       registry,
	}

	a.manager = socket.NewManager(socket.Options{
		URL:                  cfg.Server.URL,
		Identity:             cfg.Identity.Caller(),
		HeartbeatInterval:    cfg.Connection.HeartbeatInterval,
		ReconnectDelay:       cfg.Connection.ReconnectDelay,
		MaxReconnectDelay:    cfg.Connection.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.Connection.HandshakeTimeout,
		Logger:               logger,
		OnReconnect: func() {
			if a.client.Resubscribe() {
				logger.Info("resubscribed to document progress")
			}
			if h.onReconnect != nil {
				h.onReconnect()
			}
		},
		OnPermanentDisconnect: h.onPermanentDisconnect,
	})

	a.dispatcher = chat.NewDispatcher(chat.DispatcherConfig{
		Sender:   a.manager,
		Executor: registry,
		Caller:   a.manager.Identity,
		Cache:    a.cache,
		Logger:   logger,
	})

	chatRegistry := chat.NewRegistry()
	chatRegistry.SetTurnHook(a.dispatcher.Forget)
	router := chat.NewRouter(chat.RouterConfig{
		Registry:    chatRegistry,
		Broadcaster: a.broadcaster,
		Dispatcher:  a.dispatcher,
		Logger:      logger,
	})
	a.manager.SetFrameHandler(router.HandleFrame)

	a.client = chat.NewClient(a.manager, chatRegistry, logger)

	enabled := cfg.Chat.EnabledTools
	if len(enabled) == 0 {
		enabled = registry.Names(cfg.Identity.ParsedRole)
	}
	a.session = session.New(session.Config{
		Client:       a.client,
		Store:        st,
		Model:        cfg.Chat.Model,
		EnabledTools: enabled,
		Handler:      ui,
		Logger:       logger,
	})

	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	return a.manager.Connect(ctx)
}

// Close tears down in reverse order of construction.
func (a *app) Close() error {
	err := a.manager.Close()
	a.dispatcher.Close()
	a.cache.Close()
	a.broadcaster.Close()
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
