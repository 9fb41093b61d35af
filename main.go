package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mediaconsole/api"
	"mediaconsole/config"
	"mediaconsole/handlers"
	"mediaconsole/internal/auth"
	"mediaconsole/internal/database"
	"mediaconsole/internal/localstore"
	"mediaconsole/services/areas"
	"mediaconsole/services/catalog"
	"mediaconsole/services/scheduler"
	"mediaconsole/services/session"
	"mediaconsole/services/viewerstate"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("mediaconsole backend starting...")

	config.LoadDotEnv()

	// Determine config path (env or default)
	configPath := os.Getenv("MEDIACONSOLE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	config.ApplyEnv(&settings)
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Set up file logging with rotation
	logWriter := io.Writer(os.Stdout)
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			defer fileWriter.Close()
			logWriter = io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(logWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catalog database (read-only for the console; written by the seeding tool)
	db, err := database.Open(ctx, settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	osFs := afero.NewOsFs()
	areaRegistry, err := areas.Load(osFs, settings.Catalog.AreasFile)
	if err != nil {
		log.Fatalf("failed to load areas: %v", err)
	}
	log.Printf("[main] loaded %d areas from %s", len(areaRegistry.List()), settings.Catalog.AreasFile)

	catalogSvc := catalog.NewService(database.NewContentRepository(db), areaRegistry, catalog.Options{
		Attempts: uint(settings.Catalog.FetchRetries),
	})
	if settings.Catalog.WarmOnStart {
		go catalogSvc.Warm(ctx, areaRegistry.IDs())
	}

	tasks := scheduler.NewService(nil)
	if interval := settings.Catalog.RefreshInterval(); interval > 0 {
		if err := tasks.Register(scheduler.Task{
			Name:     "catalog-refresh",
			Interval: interval,
			Run: func(ctx context.Context) error {
				catalogSvc.Warm(ctx, areaRegistry.IDs())
				return nil
			},
		}); err != nil {
			log.Fatalf("failed to register catalog refresh: %v", err)
		}
	}

	// Authoritative per-viewer state
	var states viewerstate.Store
	switch settings.ViewerState.Backend {
	case config.BackendRedis:
		redisStore, err := viewerstate.NewRedisStore(ctx, viewerstate.RedisOptions{
			Addr:     settings.ViewerState.Redis.Addr,
			Password: settings.ViewerState.Redis.Password,
			DB:       settings.ViewerState.Redis.DB,
			Prefix:   settings.ViewerState.Redis.Prefix,
		})
		if err != nil {
			log.Fatalf("failed to connect viewer state backend: %v", err)
		}
		states = redisStore
	default:
		states = viewerstate.NewSQLiteStore(db)
	}
	defer states.Close()
	log.Printf("[main] viewer state backend: %s", settings.ViewerState.Backend)

	// Per-device local caches
	var storeOpts []localstore.Option
	if settings.Storage.BlobQuotaBytes > 0 {
		storeOpts = append(storeOpts, localstore.WithQuota(settings.Storage.BlobQuotaBytes))
	}
	deviceRoot, err := localstore.New(osFs, settings.Storage.Directory, storeOpts...)
	if err != nil {
		log.Fatalf("failed to prepare device storage: %v", err)
	}

	sessions := session.NewRegistry(deviceRoot, session.Deps{
		Catalog: catalogSvc,
		Areas:   areaRegistry,
		States:  states,
		Options: session.Options{
			ProgressInterval: settings.Playback.ProgressDebounce(),
			OverlayHide:      settings.Playback.OverlayHide(),
			RemoteTimeout:    settings.ViewerState.WriteTimeout(),
			HistoryCap:       settings.Playback.HistoryCap,
			HistoryDisplay:   settings.Playback.HistoryDisplay,
		},
	})

	// Devices that vanish without unloading are reaped after the idle window.
	if idle := settings.Playback.SessionIdle(); idle > 0 {
		if err := tasks.Register(scheduler.Task{
			Name:     "session-reaper",
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				if n := sessions.ReapIdle(idle); n > 0 {
					log.Printf("[main] reaped %d idle session(s)", n)
				}
				return nil
			},
		}); err != nil {
			log.Fatalf("failed to register session reaper: %v", err)
		}
	}
	if err := tasks.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	verifier := auth.NewVerifier(settings.Auth.JWTSecret, settings.Auth.AllowHeaderIdentity)
	if settings.Auth.JWTSecret == "" {
		log.Printf("[main] no JWT secret configured; every viewer is anonymous")
	}

	r := mux.NewRouter()
	api.Register(r, verifier,
		handlers.NewCatalogHandler(areaRegistry, catalogSvc),
		handlers.NewViewerStateHandler(states),
		handlers.NewConsoleHandler(sessions),
		sessions,
		tasks,
	)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	corsHandler := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(settings.Server.AllowedOrigins),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "Authorization", auth.HeaderViewerID}),
	)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      gorillahandlers.CombinedLoggingHandler(logWriter, corsHandler(r)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := tasks.Stop(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}

	// Unload every session and wait for pending progress to reach both stores.
	log.Printf("[main] unloading %d sessions", sessions.Len())
	sessions.CloseAll()
	cancel()

	log.Println("Shutdown complete")
}
