// CLAUDE:SUMMARY Entry point for the harvest daemon — YAML config, SQLite cache/telemetry, chi router, optional MCP over QUIC and HTTP/3 admin mirror.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go/http3"
	_ "modernc.org/sqlite"

	"github.com/yangqingmang/find-demand-sub000/cache"
	"github.com/yangqingmang/find-demand-sub000/dbopen"
	"github.com/yangqingmang/find-demand-sub000/harvest"
	"github.com/yangqingmang/find-demand-sub000/mcpquic"
	"github.com/yangqingmang/find-demand-sub000/shield"
	"github.com/yangqingmang/find-demand-sub000/telemetry"
)

func main() {
	configPath := flag.String("config", env("HARVEST_CONFIG", ""), "path to the YAML config file")
	flag.Parse()

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := harvest.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	cfg.SetLaunchToken(os.Getenv("PRODUCTHUNT_TOKEN"))
	if h := os.Getenv("ADMIN_KEY_HASH"); h != "" {
		cfg.AdminKeyHash = h
	}

	var opts []harvest.ServiceOption

	// Response cache: SQLite index when a path is configured, memory otherwise.
	if cfg.Cache.Path != "" {
		cacheDB, err := dbopen.Open(cfg.Cache.Path, dbopen.WithMkdirAll())
		if err != nil {
			slog.Error("cache db", "error", err)
			os.Exit(1)
		}
		defer cacheDB.Close()
		if err := cache.Init(cacheDB); err != nil {
			slog.Error("cache init", "error", err)
			os.Exit(1)
		}
		opts = append(opts, harvest.WithCache(cache.NewSQLite(cacheDB, cfg.Cache.EffectiveTTL())))
	}

	// Telemetry: SQLite-backed store when a path is configured.
	if cfg.Telemetry.Path != "" {
		telDB, err := dbopen.Open(cfg.Telemetry.Path, dbopen.WithMkdirAll())
		if err != nil {
			slog.Error("telemetry db", "error", err)
			os.Exit(1)
		}
		defer telDB.Close()
		if err := telemetry.Init(telDB); err != nil {
			slog.Error("telemetry init", "error", err)
			os.Exit(1)
		}
		store := telemetry.NewStore(telDB, cfg.Telemetry.BufferSize, cfg.Telemetry.FlushInterval)
		defer store.Close()
		opts = append(opts, harvest.WithTelemetry(store))
	} else {
		opts = append(opts, harvest.WithTelemetry(telemetry.NewMemory()))
	}

	svc := harvest.New(cfg, logger, opts...)
	svc.Start(ctx)

	if svc.Pool().Len() > 0 {
		go func() {
			healthy := svc.Pool().ProbeAll(ctx)
			slog.Info("proxy probe finished", "healthy", healthy, "total", svc.Pool().Len())
		}()
	}

	// Optional MCP over QUIC.
	if env("MCP_TRANSPORT", "") == "quic" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "harvest",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)

		quicAddr := env("MCP_QUIC_ADDR", ":9444")
		tlsCfg, tlsErr := loadTLS()
		if tlsErr != nil {
			slog.Error("MCP QUIC TLS", "error", tlsErr)
		} else {
			ql, qErr := mcpquic.NewListener(quicAddr, tlsCfg, mcpSrv, logger)
			if qErr != nil {
				slog.Error("MCP QUIC listener", "error", qErr)
			} else {
				defer ql.Close()
				go func() {
					slog.Info("MCP QUIC starting", "addr", quicAddr)
					if sErr := ql.Serve(ctx); sErr != nil && ctx.Err() == nil {
						slog.Error("MCP QUIC", "error", sErr)
					}
				}()
			}
		}
	}

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.Stack(64 << 10) {
		r.Use(mw)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/api", svc.Routes())

	// Optional HTTP/3 mirror of the admin API.
	if h3Addr := env("HTTP3_ADDR", ""); h3Addr != "" {
		tlsCfg, tlsErr := loadTLS()
		if tlsErr != nil {
			slog.Error("http3 TLS", "error", tlsErr)
		} else {
			h3 := &http3.Server{
				Addr:       h3Addr,
				Handler:    r,
				TLSConfig:  mcpquic.H3TLSConfig(tlsCfg),
				QUICConfig: mcpquic.ProductionQUICConfig(),
			}
			defer h3.Close()
			go func() {
				slog.Info("http3 server starting", "addr", h3Addr)
				if h3Err := h3.ListenAndServe(); h3Err != nil && ctx.Err() == nil {
					slog.Error("http3 server", "error", h3Err)
				}
			}()
		}
	}

	port := env("PORT", "8660")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Harvest runs wait on upstreams; give them room before the
		// server cuts the response off.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadTLS builds the QUIC-side TLS config: a real keypair when TLS_CERT and
// TLS_KEY are set, a self-signed loopback certificate otherwise.
func loadTLS() (*tls.Config, error) {
	certFile := env("TLS_CERT", "")
	keyFile := env("TLS_KEY", "")
	if certFile != "" && keyFile != "" {
		return mcpquic.ServerTLSConfig(certFile, keyFile)
	}
	return mcpquic.SelfSignedTLSConfig()
}
