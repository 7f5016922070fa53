package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/mwhitfield/groupchat/internal/api"
	"github.com/mwhitfield/groupchat/internal/config"
	"github.com/mwhitfield/groupchat/internal/database"
	"github.com/mwhitfield/groupchat/internal/server"
	"github.com/mwhitfield/groupchat/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	databaseURL    string
	signingSecret  string
	migrateUp      bool
	allowedOrigins stringSliceFlag
)

func main() {
	logger := log.New(os.Stderr, "[groupchat] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config:", err)
	}

	flag.StringVar(&addr, "addr", cfg.ServerAddr, "server address")
	flag.StringVar(&databaseURL, "database-url", cfg.DatabaseURL, "database connection URL")
	flag.StringVar(&signingSecret, "signing-secret", cfg.SigningSecret, "base64 encoded token signing secret")
	flag.BoolVar(&migrateUp, "migrate", false, "apply pending schema migrations and continue")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	cfg.ServerAddr = addr
	cfg.DatabaseURL = databaseURL
	cfg.SigningSecret = signingSecret
	if len(allowedOrigins) > 0 {
		cfg.AllowedOrigins = allowedOrigins
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config:", err)
	}

	if migrateUp {
		if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			logger.Fatal("migrate:", err)
		}
		logger.Println("migrations applied")
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	oracle := server.NewMembershipOracle(dbConn, logger, cfg.MembershipCacheTTL)

	chatServer, err := server.NewChatServer(logger, dbConn, oracle, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	app := api.NewGroupChatApp(mux, logger, chatServer, dbConn, oracle, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
