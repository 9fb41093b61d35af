package api

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"

	"mediaconsole/handlers"
	"mediaconsole/internal/auth"
	"mediaconsole/services/scheduler"

	"github.com/gorilla/mux"
)

// SessionCounter reports how many console sessions are mounted.
type SessionCounter interface {
	Len() int
}

// TaskReporter reports background task status.
type TaskReporter interface {
	Status() []scheduler.TaskStatus
}

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	verifier *auth.Verifier,
	catalogHandler *handlers.CatalogHandler,
	viewerStateHandler *handlers.ViewerStateHandler,
	consoleHandler *handlers.ConsoleHandler,
	sessions SessionCounter,
	tasks TaskReporter,
) {
	api := r.PathPrefix("/api").Subrouter()

	// Debug endpoints sit outside the identity middleware.
	pprofRouter := api.PathPrefix("/debug/pprof").Subrouter()
	pprofRouter.Use(localhostOnlyMiddleware)
	pprofRouter.HandleFunc("/", pprof.Index)
	pprofRouter.HandleFunc("/cmdline", pprof.Cmdline)
	pprofRouter.HandleFunc("/profile", pprof.Profile)
	pprofRouter.HandleFunc("/symbol", pprof.Symbol)
	pprofRouter.HandleFunc("/trace", pprof.Trace)
	pprofRouter.HandleFunc("/goroutine", pprof.Handler("goroutine").ServeHTTP)
	pprofRouter.HandleFunc("/heap", pprof.Handler("heap").ServeHTTP)

	runtimeRouter := api.PathPrefix("/debug/runtime").Subrouter()
	runtimeRouter.Use(localhostOnlyMiddleware)
	runtimeRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		stats := map[string]any{
			"goroutines":  runtime.NumGoroutine(),
			"heapAlloc":   m.HeapAlloc,
			"heapInuse":   m.HeapInuse,
			"heapObjects": m.HeapObjects,
			"numGC":       m.NumGC,
			"sessions":    0,
			"tasks":       []scheduler.TaskStatus{},
		}
		if sessions != nil {
			stats["sessions"] = sessions.Len()
		}
		if tasks != nil {
			stats["tasks"] = tasks.Status()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}).Methods(http.MethodGet)

	// Everything else resolves the viewer first; anonymous requests pass through.
	viewer := api.PathPrefix("").Subrouter()
	viewer.Use(verifier.Middleware)

	viewer.HandleFunc("/areas", catalogHandler.ListAreas).Methods(http.MethodGet)
	viewer.HandleFunc("/areas", handlers.Options).Methods(http.MethodOptions)
	viewer.HandleFunc("/areas/{areaID}", catalogHandler.GetArea).Methods(http.MethodGet)
	viewer.HandleFunc("/areas/{areaID}", handlers.Options).Methods(http.MethodOptions)
	viewer.HandleFunc("/areas/{areaID}/content", catalogHandler.AreaContent).Methods(http.MethodGet)
	viewer.HandleFunc("/areas/{areaID}/content", handlers.Options).Methods(http.MethodOptions)
	viewer.HandleFunc("/content", catalogHandler.GlobalContent).Methods(http.MethodGet)
	viewer.HandleFunc("/content", handlers.Options).Methods(http.MethodOptions)

	viewer.HandleFunc("/viewers/{viewerID}/state", viewerStateHandler.Get).Methods(http.MethodGet)
	viewer.HandleFunc("/viewers/{viewerID}/state", viewerStateHandler.Patch).Methods(http.MethodPatch)
	viewer.HandleFunc("/viewers/{viewerID}/state", handlers.Options).Methods(http.MethodOptions)

	console := viewer.PathPrefix("/console/sessions").Subrouter()
	console.HandleFunc("", consoleHandler.Create).Methods(http.MethodPost)
	console.HandleFunc("", handlers.Options).Methods(http.MethodOptions)
	console.HandleFunc("/{sessionID}", consoleHandler.Get).Methods(http.MethodGet)
	console.HandleFunc("/{sessionID}", consoleHandler.Delete).Methods(http.MethodDelete)
	console.HandleFunc("/{sessionID}", handlers.Options).Methods(http.MethodOptions)
	console.HandleFunc("/{sessionID}/history", consoleHandler.History).Methods(http.MethodGet)
	console.HandleFunc("/{sessionID}/history", handlers.Options).Methods(http.MethodOptions)

	actions := map[string]http.HandlerFunc{
		"open":       consoleHandler.Open,
		"area":       consoleHandler.SelectArea,
		"overview":   consoleHandler.Overview,
		"tick":       consoleHandler.Tick,
		"scrub":      consoleHandler.Scrub,
		"toggle":     consoleHandler.Toggle,
		"interact":   consoleHandler.Interact,
		"volume":     consoleHandler.Volume,
		"mute":       consoleHandler.Mute,
		"visibility": consoleHandler.Visibility,
		"media":      consoleHandler.Media,
		"browser":    consoleHandler.Browser,
	}
	for name, fn := range actions {
		console.HandleFunc("/{sessionID}/"+name, fn).Methods(http.MethodPost)
		console.HandleFunc("/{sessionID}/"+name, handlers.Options).Methods(http.MethodOptions)
	}
}
