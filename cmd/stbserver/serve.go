package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shtable/stbsync/internal/digestauth"
	"github.com/shtable/stbsync/internal/httpapi"
	"github.com/shtable/stbsync/internal/logging"
	"github.com/shtable/stbsync/internal/reconcile"
	"github.com/shtable/stbsync/internal/store"
)

var (
	serveAddr           string
	serveRealm          string
	serveTables         []string
	serveUsers          []string
	servePGMaxConns     int32
	servePGMinConns     int32
	servePGConnLifetime time.Duration
	servePGConnIdleTime time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP sync endpoint for one or more shared tables",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", env("STB_ADDR", ":8080"), "address to listen on")
	serveCmd.Flags().StringVar(&serveRealm, "realm", "shtable", "Digest auth realm")
	serveCmd.Flags().StringArrayVar(&serveTables, "table", nil, `table to serve, "name" or "name:tabletype" (repeatable, tabletype defaults to stbcsv)`)
	serveCmd.Flags().StringArrayVar(&serveUsers, "user", nil, `Digest credential, "username:password" (repeatable)`)
	serveCmd.Flags().Int32Var(&servePGMaxConns, "pg-max-conns", 20, "maximum postgres pool connections")
	serveCmd.Flags().Int32Var(&servePGMinConns, "pg-min-conns", 2, "minimum postgres pool connections kept warm")
	serveCmd.Flags().DurationVar(&servePGConnLifetime, "pg-conn-lifetime", time.Hour, "maximum lifetime of a pooled postgres connection")
	serveCmd.Flags().DurationVar(&servePGConnIdleTime, "pg-conn-idle-time", 30*time.Minute, "maximum idle time before a pooled postgres connection is recycled")
}

func runServe(cmd *cobra.Command, args []string) error {
	if len(serveTables) == 0 {
		return fmt.Errorf("serve requires at least one --table")
	}

	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	adminSecret := env("STB_ADMIN_JWT_SECRET", "")
	if adminSecret == "" {
		return fmt.Errorf("STB_ADMIN_JWT_SECRET is required")
	}

	appLog := logging.NewZerolog(env("ENV", "") == "dev", "stbserver")

	ctx := context.Background()
	poolCfg := store.PoolConfig{
		MaxConns:          servePGMaxConns,
		MinConns:          servePGMinConns,
		MaxConnLifetime:   servePGConnLifetime,
		MaxConnIdleTime:   servePGConnIdleTime,
		HealthCheckPeriod: time.Minute,
	}
	pool, err := store.OpenPool(ctx, pgURL, poolCfg, appLog)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	tables := make(map[string]*httpapi.Table, len(serveTables))
	for _, spec := range serveTables {
		name, kind, _ := strings.Cut(spec, ":")
		if kind == "" {
			kind = "stbcsv"
		}
		var format reconcile.Format
		switch kind {
		case "stbcsv":
			format = reconcile.FormatSTBCSV
		case "csv":
			format = reconcile.FormatCSV
		case "other":
			format = reconcile.FormatOther
		default:
			return fmt.Errorf("unknown tabletype %q for table %q", kind, name)
		}
		tables[name] = &httpapi.Table{Store: store.NewPGStore(pool, name), Format: format}
	}

	credentials := make(map[string]string, len(serveUsers))
	for _, spec := range serveUsers {
		username, password, ok := strings.Cut(spec, ":")
		if !ok {
			return fmt.Errorf(`--user must be "username:password", got %q`, spec)
		}
		credentials[username] = password
	}
	lookup := func(username string) (string, bool) {
		password, ok := credentials[username]
		return password, ok
	}

	digest := digestauth.NewServer(serveRealm, lookup)
	admin := &httpapi.AdminAuth{Secret: adminSecret}
	srv := httpapi.NewServer(tables, digest, admin, appLog)

	httpServer := &http.Server{
		Addr:         serveAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serveAddr).Strs("tables", tableNames(tables)).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("server stopped")
	return nil
}

func tableNames(tables map[string]*httpapi.Table) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	return names
}
