package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"slidecollab/internal/config"
	"slidecollab/internal/db"
	"slidecollab/internal/handlers"
	"slidecollab/internal/permission"
	"slidecollab/internal/realtime"
	"slidecollab/internal/services"
	"slidecollab/internal/session"
)

func main() {
	// glog flags: -v, -logtostderr, ...
	flag.Parse()
	defer glog.Flush()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize database
	if err := db.InitDatabase(cfg.Database.Path); err != nil {
		glog.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Room backplane, optional
	var backplane realtime.Backplane
	if cfg.Redis.URL != "" {
		redisBackplane, err := realtime.NewRedisBackplane(cfg.Redis.URL)
		if err != nil {
			glog.Errorf("Invalid redis url, running as a single instance: %v", err)
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := redisBackplane.Ping(pingCtx); err != nil {
				glog.Errorf("Redis unreachable, running as a single instance: %v", err)
				redisBackplane.Close()
			} else {
				glog.Infof("Room backplane connected")
				backplane = redisBackplane
				defer redisBackplane.Close()
			}
			cancel()
		}
	}

	// Initialize services
	hub := realtime.NewHub(backplane)
	go hub.Run(ctx)

	store := services.NewDocumentStore(db.DB)
	gate := permission.NewGate(store)
	snapshots := services.NewSnapshotService(store, gate, hub)
	presentations := services.NewPresentationService(store, gate)
	sessions := session.NewManager(cfg.Session.Secret, cfg.Session.TTL)
	realtimeServer := realtime.NewServer(hub, store, gate, snapshots, cfg.CORS.AllowedOrigins, cfg.WebSocket.MaxMessageBytes)

	// Initialize handlers
	auth := handlers.NewAuth(sessions)
	routes := &handlers.Routes{
		Auth:          auth,
		Sessions:      handlers.NewSessionHandler(sessions),
		Presentations: handlers.NewPresentationHandler(presentations),
		Slides:        handlers.NewSlideHandler(store, snapshots, hub),
		WebSocket:     handlers.NewWebSocketHandler(realtimeServer, auth),
	}

	// Setup routes
	router := handlers.SetupRoutes(routes, cfg.CORS.AllowedOrigins)

	// Configure server
	server := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		glog.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			glog.Errorf("Shutdown failed: %v", err)
		}
	}()

	var err error
	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		server.TLSConfig = &tls.Config{
			MinVersion: getTLSVersion(cfg.TLS.MinVersion),
		}

		glog.Infof("Starting HTTPS server on %s:%s", cfg.Server.Host, cfg.Server.Port)
		glog.Infof("TLS Certificate: %s", cfg.TLS.CertFile)
		glog.Infof("TLS Key: %s", cfg.TLS.KeyFile)
		glog.Infof("TLS Min Version: %s", cfg.TLS.MinVersion)

		err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	} else {
		glog.Infof("Starting HTTP server on %s:%s", cfg.Server.Host, cfg.Server.Port)
		glog.Warningf("HTTP mode is not recommended for production")

		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Errorf("Server failed: %v", err)
	}
}

// getTLSVersion converts string version to tls.Version constant
func getTLSVersion(version string) uint16 {
	switch version {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
