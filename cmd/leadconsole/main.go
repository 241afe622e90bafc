package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/crmrebs/leadconsole/internal/audit"
	"github.com/crmrebs/leadconsole/internal/backend"
	"github.com/crmrebs/leadconsole/internal/httpapi"
	"github.com/crmrebs/leadconsole/internal/leads"
)

func main() {
	_ = godotenv.Load(".env")

	addr := flag.String("addr", envOrDefault("LEADCONSOLE_ADDR", ":8090"), "address the console listens on")
	backendURL := flag.String("backend-url", envOrDefault("LEADCONSOLE_BACKEND_URL", ""), "base URL of the CRM backend")
	password := flag.String("password", envOrDefault("LEADCONSOLE_PASSWORD", ""), "operator password")
	newInterval := flag.Duration("new-interval", durationEnv("LEADCONSOLE_NEW_INTERVAL", 15*time.Second), "poll interval for the new-leads collection")
	historyInterval := flag.Duration("history-interval", durationEnv("LEADCONSOLE_HISTORY_INTERVAL", 30*time.Second), "poll interval for the history collection")
	defaultTemplate := flag.String("default-template", envOrDefault("LEADCONSOLE_DEFAULT_TEMPLATE", ""), "outreach template used when a send names none")
	dialCode := flag.String("dial-code", envOrDefault("LEADCONSOLE_DIAL_CODE", "40"), "country dial code prepended to local-format phone numbers")
	auditDSN := flag.String("audit-dsn", envOrDefault("LEADCONSOLE_AUDIT_DSN", ""), "Postgres DSN for the outreach audit log (empty disables auditing)")
	flag.Parse()

	if *password == "" {
		log.Fatalf("operator password is required (--password or LEADCONSOLE_PASSWORD)")
	}

	logger := log.Default()
	client := backend.NewHTTPClient(backend.Options{BaseURL: *backendURL})

	newStore, err := leads.NewStore(leads.StoreOptions{
		Name:     "new",
		Fetch:    client.ListNewLeads,
		Send:     client.SendOutreach,
		Interval: *newInterval,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to initialize new-leads store: %v", err)
	}
	historyStore, err := leads.NewStore(leads.StoreOptions{
		Name:     "history",
		Fetch:    client.ListHistoryLeads,
		Interval: *historyInterval,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to initialize history store: %v", err)
	}

	var auditLog *audit.Log
	if *auditDSN != "" {
		auditLog, err = audit.NewLog(*auditDSN)
		if err != nil {
			log.Fatalf("failed to initialize audit log: %v", err)
		}
	}

	server := httpapi.NewServer(newStore, historyStore, client, auditLog, httpapi.ServerConfig{
		Password:        *password,
		SessionSecret:   os.Getenv("LEADCONSOLE_SESSION_SECRET"),
		SessionTTL:      durationEnv("LEADCONSOLE_SESSION_TTL", 12*time.Hour),
		MaxBodyBytes:    int64Env("LEADCONSOLE_MAX_BODY_BYTES", 0),
		DefaultTemplate: *defaultTemplate,
		DefaultDialCode: *dialCode,
	}, logger)
	defer server.Close()

	// Live updates ride on snapshot changes; the stores are wired after the
	// server exists so their change hooks can reach the broadcast hub.
	newStore.SetOnChange(func() { server.NotifyChange("new") })
	historyStore.SetOnChange(func() { server.NotifyChange("history") })

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go newStore.Run(rootCtx)
	go historyStore.Run(rootCtx)

	httpServer := &http.Server{Addr: *addr, Handler: server}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("leadconsole listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}
