package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/Nihilantropy/ft-transcendence-sub004/auth"
	"github.com/Nihilantropy/ft-transcendence-sub004/hub"
	"github.com/Nihilantropy/ft-transcendence-sub004/presence"
	"github.com/Nihilantropy/ft-transcendence-sub004/protocol"
	ws "github.com/Nihilantropy/ft-transcendence-sub004/websocket"
)

const serviceName = "transcendence-relay"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	registry := presence.New()
	games := hub.NewGames()
	chat := hub.NewChat()
	handler := protocol.NewHandler(registry, games, chat)
	authenticator := auth.New([]byte(secret))

	r := chi.NewRouter()
	r.Get("/ws", wsHandler(authenticator, handler))
	r.Get("/health", healthHandler(registry))
	r.Get("/stats", statsHandler(registry, games, chat))

	server := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		slog.Info("relay starting", "port", port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("relay shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

// wsHandler authenticates the handshake before upgrading; a socket
// without a valid token never reaches the protocol layer.
func wsHandler(authenticator *auth.Authenticator, handler *protocol.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := authenticator.Authenticate(r)
		if err != nil {
			slog.Warn("handshake rejected", "remote", r.RemoteAddr, "error", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		connID := uuid.New().String()
		slog.Info("handshake accepted", "userId", identity.UserID, "username", identity.Username, "connId", connID)

		wsConn := ws.NewConn(connID, identity, conn, handler)
		wsConn.Start()
	}
}

func healthHandler(registry *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"service":     serviceName,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"connections": registry.Count(),
		})
	}
}

func statsHandler(registry *presence.Registry, games *hub.Games, chat *hub.Chat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"connections": registry.Count(),
			"gameRooms":   games.Count(),
			"chatRooms":   chat.Count(),
		})
	}
}
