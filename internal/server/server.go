package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/a-essam23/go-huddle/internal/endpoints"
	"github.com/a-essam23/go-huddle/internal/engine"
	"github.com/a-essam23/go-huddle/internal/presence"
	"github.com/a-essam23/go-huddle/internal/protocol"
	"github.com/a-essam23/go-huddle/internal/router"
	"github.com/a-essam23/go-huddle/internal/server/middleware"
	"github.com/a-essam23/go-huddle/pkg/config"
	"github.com/a-essam23/go-huddle/pkg/state"
	"github.com/a-essam23/go-huddle/pkg/state/statemanager"
	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/a-essam23/go-huddle/pkg/transport"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	reactor      *presence.Reactor
	store        store.Store
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootContx context.Context, cfg *config.Config, st store.Store) *App {
	stateManager := statemanager.NewInMemoryManager(logger)
	phases := protocol.New(logger, st, stateManager,
		protocol.WithDebounce(cfg.Protocol.Debounce),
		protocol.WithSerializedAdvances(cfg.Protocol.SerializeAdvances),
	)

	registry := engine.New(logger, cfg.Limits)
	endpoints.Register(registry, endpoints.Deps{
		Logger:    logger,
		Store:     st,
		State:     stateManager,
		Phases:    phases,
		JWTSecret: cfg.Server.Auth.JWTSecret,
	})
	eventRouter := router.NewEventRouter(logger, stateManager, registry)

	reactor := presence.NewReactor(rootContx, logger, st, phases, eventRouter)
	reactor.Attach(stateManager)

	app := &App{
		logger:       logger.With(slog.String("component", "server")),
		stateManager: stateManager,
		eventRouter:  eventRouter,
		reactor:      reactor,
		store:        st,
		config:       cfg,
		ctx:          rootContx,
	}

	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

func (a *App) routes() http.Handler {
	connCounter := middleware.UserConnectionCounter(a.stateManager.GetUserConnectionCount)
	// Create a cycler function that closes over the stateManager and logger.
	connCycler := func(userID string) {
		oldest, found := a.stateManager.FindOldestUserConnection(userID)
		if found {
			a.logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("connID", oldest.ID.String()))
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if len(a.config.Server.CorsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.config.Server.CorsOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/channels", a.channelsHandler)
	r.Method(http.MethodGet, "/ws",
		middleware.Chain(http.HandlerFunc(a.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(a.logger),
			middleware.NewAuthMiddleware(a.logger, a.config.Server.Auth.JWTSecret, a.config.Server.Auth.AllowGuests),
			middleware.NewConnectionLimiter(
				a.logger,
				connCounter,
				connCycler,
				a.config.Server.ConnectionLimit,
			),
		),
	)
	return r
}

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			errCh <- err
		}
	}()

	select {
	case <-a.ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}
	return a.Shutdown()
}

type channelInfo struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

func (a *App) channelsHandler(w http.ResponseWriter, _ *http.Request) {
	counts := a.stateManager.Channels()
	out := make([]channelInfo, 0, len(counts))
	for id, n := range counts {
		out = append(out, channelInfo{ID: id, Members: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		a.logger.Warn("Failed to write channel list", slog.Any("error", err))
	}
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("reqID", reqMeta.RequestID),
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	opts := &websocket.AcceptOptions{InsecureSkipVerify: true}
	if len(a.config.Server.CorsOrigins) > 0 {
		opts = &websocket.AcceptOptions{OriginPatterns: a.config.Server.CorsOrigins}
	}
	wsConn, err := websocket.Accept(w, r, opts)
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	// register new connection
	stateConn, err := a.stateManager.RegisterConnection(conn, reqMeta.IP)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	// associate the authenticated user with the registered connection.
	if !reqMeta.Guest() {
		if err := a.stateManager.AssociateUser(stateConn.ID, reqMeta.UserID); err != nil {
			connLogger.Error("Failed to associate user with connection", slog.Any("error", err))
			_ = a.stateManager.DeregisterConnection(stateConn.ID)
			conn.Close(err)
			return
		}
		a.rememberPerson(connLogger, reqMeta)
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()), slog.Any("reason", err))
		if dErr := a.stateManager.DeregisterConnection(id); dErr != nil {
			connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
		}
	})

	connLogger.Info("Connection fully established", slog.String("connID", stateConn.ID.String()), slog.Bool("guest", reqMeta.Guest()))
	conn.Run()
	<-conn.Done()
}

// rememberPerson records the token's display name so identity lookups can
// find it later. A failure only costs the name.
func (a *App) rememberPerson(logger *slog.Logger, meta *middleware.RequestMetadata) {
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if _, err := a.store.UpsertPerson(ctx, store.Person{ID: meta.UserID, Name: meta.Name}); err != nil {
		logger.Warn("Failed to store person", slog.Any("error", err))
	}
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// close all active WebSocket connections first; hijacked connections are
	// not tracked by http.Server.Shutdown.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.stateManager.AllConnections() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.reactor.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
