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

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/npezzotti/go-classroom/internal/api"
	"github.com/npezzotti/go-classroom/internal/config"
	"github.com/npezzotti/go-classroom/internal/server"
	"github.com/npezzotti/go-classroom/internal/stats"
	"github.com/npezzotti/go-classroom/internal/store"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

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
	dsn            string
	redisURL       string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&redisURL, "redis-url", "", "redis URL for cluster fan-out (empty disables clustering)")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[classroom] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, redisURL, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	classStore, err := store.NewPgClassroomStore(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("store open:", err)
	}
	defer func() {
		if err := classStore.Close(); err != nil {
			logger.Fatal("store close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	signalServer, err := server.NewSignalServer(logger, classStore, statsUpdater)
	if err != nil {
		logger.Fatal("new signal server:", err)
	}

	// Clustering is optional: a missing or unreachable broker degrades to
	// single-process delivery.
	if cfg.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		fanout, err := server.NewRedisFanout(connectCtx, cfg.RedisURL, uuid.NewString(), signalServer.Inbound(), logger)
		cancel()
		if err != nil {
			logger.Println("warning: cluster fan-out unavailable, running in single-process mode:", err)
		} else {
			signalServer.SetFanout(fanout)
			defer func() {
				if err := fanout.Close(); err != nil {
					logger.Println("fanout close:", err)
				}
			}()
			logger.Println("cluster fan-out enabled")
		}
	}

	srv := api.NewClassroomApp(mux, logger, signalServer, classStore, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go signalServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
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

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down signal server...")
	if err := signalServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("signal server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
