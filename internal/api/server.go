package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"liveclass/internal/room"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// RoomDirectory is the read-only view of live rooms the API exposes
type RoomDirectory interface {
	List() []room.Summary
	Snapshot(roomID string) (room.Snapshot, bool)
}

// StatsSource reports counters for the health endpoint
type StatsSource interface {
	Stats() map[string]int
}

type Config struct {
	AllowedOrigins []string
	Rooms          RoomDirectory
	Connections    StatsSource
	Hub            StatsSource
	// Catalog may be nil when class validation is disabled
	Catalog   interfaces.ClassCatalog
	WebSocket http.Handler
	Logger    *zerolog.Logger
}

// Server is the HTTP surface: health, room inspection and the WebSocket
// upgrade route. It holds no state of its own.
type Server struct {
	rooms       RoomDirectory
	connections StatsSource
	hub         StatsSource
	catalog     interfaces.ClassCatalog
	logger      zerolog.Logger
	started     time.Time
	router      chi.Router
}

func NewServer(cfg Config) *Server {
	s := &Server{
		rooms:       cfg.Rooms,
		connections: cfg.Connections,
		hub:         cfg.Hub,
		catalog:     cfg.Catalog,
		logger:      cfg.Logger.With().Str("component", "api").Logger(),
		started:     time.Now(),
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.healthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", s.listRooms)
		r.Get("/rooms/{roomId}", s.getRoom)
		r.Get("/classes", s.listClasses)
	})
	if cfg.WebSocket != nil {
		r.Get("/ws", cfg.WebSocket.ServeHTTP)
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Catalog     string         `json:"catalog"`
	Connections map[string]int `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
	Goroutines  int            `json:"goroutines"`
	Uptime      string         `json:"uptime"`
}

type RoomsResponse struct {
	Rooms []room.Summary `json:"rooms"`
}

type ClassesResponse struct {
	Classes []*types.Class `json:"classes"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health returns 503 when the catalog is configured but unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	catalogStatus := "disabled"
	if s.catalog != nil {
		catalogStatus = "healthy"
		if err := s.catalog.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			catalogStatus = "error: " + err.Error()
		}
	}

	resp := HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Catalog:     catalogStatus,
		Connections: s.connections.Stats(),
		Rooms:       s.hub.Stats(),
		Goroutines:  runtime.NumGoroutine(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

// GET /api/rooms
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, RoomsResponse{Rooms: s.rooms.List()})
}

// GET /api/rooms/{roomId}
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	snapshot, ok := s.rooms.Snapshot(roomID)
	if !ok {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

// GET /api/classes lists active classes, empty when the catalog is disabled
func (s *Server) listClasses(w http.ResponseWriter, r *http.Request) {
	classes := []*types.Class{}
	if s.catalog != nil {
		active, err := s.catalog.ListActiveClasses(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to list classes")
			s.sendError(w, "Failed to list classes", http.StatusInternalServerError)
			return
		}
		if active != nil {
			classes = active
		}
	}
	s.writeJSON(w, http.StatusOK, ClassesResponse{Classes: classes})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
