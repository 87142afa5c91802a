package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/textpilot/textpilot-daemon/internal/auth"
	"github.com/textpilot/textpilot-daemon/internal/config"
	"github.com/textpilot/textpilot-daemon/internal/connection"
	"github.com/textpilot/textpilot-daemon/internal/credentials"
	"github.com/textpilot/textpilot-daemon/internal/dispatcher"
	"github.com/textpilot/textpilot-daemon/internal/engine"
	"github.com/textpilot/textpilot-daemon/internal/engine/deepseek"
	"github.com/textpilot/textpilot-daemon/internal/engine/loopback"
	"github.com/textpilot/textpilot-daemon/internal/history"
	historyasync "github.com/textpilot/textpilot-daemon/internal/history/async"
	historypg "github.com/textpilot/textpilot-daemon/internal/history/postgres"
	historysqlite "github.com/textpilot/textpilot-daemon/internal/history/sqlite"
	"github.com/textpilot/textpilot-daemon/internal/httpserver"
	"github.com/textpilot/textpilot-daemon/internal/logging"
	"github.com/textpilot/textpilot-daemon/internal/prompt"
	"github.com/textpilot/textpilot-daemon/internal/registry"
	"github.com/textpilot/textpilot-daemon/internal/version"
)

func main() {
	cfg, err := config.LoadDaemonConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging, mirrored to stdout for foreground runs.
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[textpilotd] ")
		defer rot.Close()
	}

	log.Printf("textpilotd %s starting env=%s", version.Info(), cfg.Environment)

	prompts, err := prompt.Load(cfg.PromptsPath)
	if err != nil {
		log.Fatalf("load prompt catalog: %v", err)
	}
	log.Printf("prompt catalog loaded buttons=%v roles=%v", prompts.Buttons(), prompts.Roles())

	eng := buildEngine(cfg)

	historyStore := buildHistory(cfg)
	if historyStore != nil {
		defer historyStore.Close()
	}

	connections := connection.NewRegistry(log.New(log.Writer(), "[textpilotd/conn] ", log.LstdFlags|log.Lmicroseconds))
	coordinator := registry.NewCoordinator()

	disp := dispatcher.New(dispatcher.Config{
		Connections: connections,
		Coordinator: coordinator,
		Engine:      eng,
		Prompts:     prompts,
		History:     historyStore,
		Logger:      log.New(log.Writer(), "[textpilotd/dispatch] ", log.LstdFlags|log.Lmicroseconds),
		MaxTextLen:  cfg.MaxTextLen,
		JobTimeout:  cfg.JobTimeout,
	})

	var verifier *auth.Verifier
	if !cfg.AuthDisabled {
		verifier = auth.NewVerifier(cfg.AuthToken)
	} else {
		log.Printf("authorization disabled: skipping token validation")
	}

	httpSrv := httpserver.New(httpserver.Config{
		Dispatcher:   disp,
		Connections:  connections,
		Prompts:      prompts,
		History:      historyStore,
		Verifier:     verifier,
		AuthDisabled: cfg.AuthDisabled,
	})
	httpSrv.SetLogger(cfg.LogLevel, log.New(log.Writer(), "[textpilotd/http] ", log.LstdFlags|log.Lmicroseconds))

	srv := &http.Server{
		Addr:        cfg.ListenAddress,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: websocket streams outlive any fixed bound.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("textpilotd listening on %s", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	// Let in-flight jobs finish writing history before the stores close.
	if err := disp.Wait(shutdownCtx); err != nil {
		log.Printf("jobs still running at shutdown: %v", err)
	}
}

// buildEngine selects the generation engine. A deepseek selection without
// a resolvable key degrades to loopback so the daemon still comes up.
func buildEngine(cfg config.DaemonConfig) engine.Engine {
	if cfg.Engine == "loopback" {
		log.Printf("engine: loopback")
		return loopback.New()
	}

	apiKey := cfg.DeepSeekAPIKey
	if strings.TrimSpace(apiKey) == "" {
		apiKey = credentials.NewStore("").APIKey()
	}
	if strings.TrimSpace(apiKey) == "" {
		log.Printf("engine: deepseek selected but no API key found; falling back to loopback")
		return loopback.New()
	}

	ds, err := deepseek.New(deepseek.Config{
		APIKey:  apiKey,
		BaseURL: cfg.DeepSeekBaseURL,
		Model:   cfg.DeepSeekModel,
	})
	if err != nil {
		log.Printf("engine: deepseek init failed (%v); falling back to loopback", err)
		return loopback.New()
	}
	log.Printf("engine: deepseek model=%s", cfg.DeepSeekModel)
	return ds
}

// buildHistory opens the configured job history store, nil when off.
func buildHistory(cfg config.DaemonConfig) history.Store {
	var store history.Store
	switch cfg.HistoryBackend {
	case "off":
		return nil
	case "sqlite":
		s, err := historysqlite.New(cfg.HistoryPath)
		if err != nil {
			log.Fatalf("open history store: %v", err)
		}
		log.Printf("history: sqlite path=%s", cfg.HistoryPath)
		store = s
	case "postgres":
		s, err := historypg.New(cfg.HistoryDSN, 10, 5, 30*time.Minute)
		if err != nil {
			log.Fatalf("open history store: %v", err)
		}
		log.Printf("history: postgres")
		store = s
	}
	if cfg.HistoryAsync {
		store = historyasync.New(store, historyasync.Config{
			Logger: log.New(log.Writer(), "[textpilotd/history] ", log.LstdFlags|log.Lmicroseconds),
		})
	}
	return store
}
