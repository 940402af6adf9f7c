package api

import (
	"net/http"
	"path/filepath"

	"room-panel/internal/middleware"

	"github.com/gorilla/mux"
)

// RouteOptions configures the parts of the router that are not handlers.
type RouteOptions struct {
	// StaticDir holds the built panel UI (index.html and assets/).
	StaticDir string
	// AdminPassword guards PUT /api/data when non-empty.
	AdminPassword string
}

func SetupRoutes(h *Handler, opts RouteOptions) *mux.Router {
	r := mux.NewRouter()

	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)       // Add tracing spans to all requests
	r.Use(middleware.ErrorRecoveryMiddleware) // Catch panics
	r.Use(middleware.CORSMiddleware)          // Handle CORS

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/data", h.GetData).Methods("GET")
	api.Handle("/data", middleware.AdminAuth(opts.AdminPassword)(http.HandlerFunc(h.PutData))).Methods("PUT")
	// preflight for browser admins on another origin
	api.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {}).Methods("OPTIONS")

	api.HandleFunc("/health", h.Health).Methods("GET")

	// Change channel
	r.HandleFunc("/ws", h.HandleWebSocket)

	// Serve the panel UI; both routes load the same single-page app
	index := filepath.Join(opts.StaticDir, "index.html")
	serveIndex := func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, index)
	}
	r.HandleFunc("/", serveIndex).Methods("GET")
	r.HandleFunc("/admin", serveIndex).Methods("GET")

	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/",
		http.FileServer(http.Dir(filepath.Join(opts.StaticDir, "assets")))))

	return r
}
