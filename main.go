package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/webssh/internal/config"
	"github.com/gluk-w/webssh/internal/crypto"
	"github.com/gluk-w/webssh/internal/database"
	"github.com/gluk-w/webssh/internal/handlers"
	"github.com/gluk-w/webssh/internal/logging"
	"github.com/gluk-w/webssh/internal/middleware"
	"github.com/gluk-w/webssh/internal/session"
	"github.com/gluk-w/webssh/internal/sshaudit"
	"github.com/gluk-w/webssh/internal/sshkeys"
	"github.com/gluk-w/webssh/internal/sshproxy"
	"github.com/gluk-w/webssh/internal/webshell"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 && os.Args[1] == "--generate-key" {
		generateKey()
		return
	}

	config.Load()
	logging.Init(config.Cfg.LogPath)
	defer logging.Close()

	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	sshaudit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)

	verifier, err := sshkeys.NewHostKeyVerifier(config.Cfg.HostKeyPolicy, config.Cfg.KnownHostsPath)
	if err != nil {
		log.Fatalf("Host key verifier: %v", err)
	}
	if verifier.Policy() == config.HostKeyInsecure {
		log.Printf("WARNING: host key verification is disabled (policy %q)", config.HostKeyInsecure)
	}

	registry := sshproxy.NewRegistry()
	limiter := sshproxy.NewRateLimiter()
	dialer := &sshproxy.SSHDialer{
		HostKeyCallback: verifier.Callback(),
		Timeout:         config.Cfg.ConnectTimeout,
	}
	manager := sshproxy.NewManager(registry, dialer, limiter, config.Cfg.MaxKeyFileBytes)
	log.Printf("SSH manager initialized (host key policy=%s, connect timeout=%s)",
		verifier.Policy(), config.Cfg.ConnectTimeout)

	store := session.NewStore(database.DB, crypto.NewCipher(database.DB), config.Cfg.SessionTTL)
	shell := webshell.NewService(store, manager, webshell.Options{
		ExecTimeout:        config.Cfg.ExecTimeout,
		TranscriptMaxBytes: config.Cfg.TranscriptMaxBytes,
	})
	handlers.Shell = shell
	handlers.Registry = registry
	handlers.MaxKeyBytes = config.Cfg.MaxKeyFileBytes

	jobs, err := startJobs(shell, limiter)
	if err != nil {
		log.Fatalf("Background jobs: %v", err)
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no session)
	r.Get("/health", handlers.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(store, config.Cfg.CookieSecure))

		r.Get("/", handlers.Index)
		r.Post("/execute", handlers.ExecuteForm)
		r.Get("/disconnect", handlers.DisconnectPage)

		// API v1
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/execute", handlers.ExecuteAPI)
			r.Post("/disconnect", handlers.DisconnectAPI)
			r.Get("/session", handlers.SessionStatus)
			r.Get("/audit", handlers.GetSessionAudit)
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:              config.Cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	<-jobs.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	registry.CloseAll()
	log.Println("Server stopped")
}

// startJobs schedules the periodic maintenance: expired session cleanup,
// idle connection sweep, rate limiter pruning and audit retention.
func startJobs(shell *webshell.Service, limiter *sshproxy.RateLimiter) (*cron.Cron, error) {
	c := cron.New()

	schedules := []struct {
		when string
		job  func()
	}{
		{"@every 10m", func() {
			if _, err := shell.CleanupExpired(); err != nil {
				log.Printf("[jobs] session cleanup: %v", err)
			}
		}},
		{"@every 1m", func() {
			if n := shell.SweepIdle(config.Cfg.IdleConnTimeout); n > 0 {
				log.Printf("[jobs] closed %d idle connections", n)
			}
		}},
		{"@every 10m", func() {
			limiter.Prune()
		}},
		{"@daily", func() {
			a := sshaudit.GetAuditor()
			if a == nil {
				return
			}
			if _, err := a.PurgeOlderThan(a.RetentionDays()); err != nil {
				log.Printf("[jobs] audit purge: %v", err)
			}
		}},
	}
	for _, s := range schedules {
		if _, err := c.AddFunc(s.when, s.job); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", s.when, err)
		}
	}

	c.Start()
	return c, nil
}

// generateKey prints a fresh Ed25519 key pair: the private key in PKCS#8
// PEM form for upload, the public key for authorized_keys.
func generateKey() {
	pub, priv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	fmt.Printf("%s\n%s", priv, pub)
}
