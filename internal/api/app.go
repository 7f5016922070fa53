package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/mwhitfield/groupchat/internal/config"
	"github.com/mwhitfield/groupchat/internal/database"
	"github.com/mwhitfield/groupchat/internal/server"
	"github.com/mwhitfield/groupchat/internal/stats"
)

type GroupChatApp struct {
	log            *log.Logger
	db             database.ChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	oracle         *server.MembershipOracle
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
}

func NewGroupChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository,
	oracle *server.MembershipOracle, st stats.StatsProvider, cfg *config.Config) *GroupChatApp {
	s := &GroupChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		oracle:         oracle,
		stats:          st,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /api/healthz", s.healthz)
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/channels", s.authMiddleware(s.getChannel))
	mux.Handle("GET /api/users/online", s.authMiddleware(s.onlineUsers))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GroupChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *GroupChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
