package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/process"

	"securechat/internal/account"
	"securechat/pkg/interfaces"
	"securechat/pkg/types"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 1 << 20

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetStats() map[string]int
}

// HealthChecker is satisfied by the database manager
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	accounts    interfaces.AccountService
	broadcaster interfaces.Broadcaster
	history     interfaces.HistoryProvider
	health      HealthChecker
	registry    Registry
	router      *mux.Router
	log         *slog.Logger
	startedAt   time.Time
}

// FUNCTIONAL DISCOVERY: Constructor initializes all dependencies and sets up routing
// Dependency injection pattern maintains architectural boundaries
func NewServer(
	accounts interfaces.AccountService,
	broadcaster interfaces.Broadcaster,
	history interfaces.HistoryProvider,
	health HealthChecker,
	registry Registry,
	log *slog.Logger,
) *Server {
	s := &Server{
		accounts:    accounts,
		broadcaster: broadcaster,
		history:     history,
		health:      health,
		registry:    registry,
		router:      mux.NewRouter(),
		log:         log,
		startedAt:   time.Now(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)

	api := s.router.NewRoute().Subrouter()
	api.Use(s.jsonMiddleware)
	api.HandleFunc("/register", s.register).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/login", s.login).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/users", s.listUsers).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/chat", s.postChat).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/messages", s.listMessages).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet, http.MethodOptions)

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}

// HandleRealtime mounts the websocket upgrade endpoint outside the JSON middleware
func (s *Server) HandleRealtime(path string, handler http.HandlerFunc) {
	s.router.HandleFunc(path, handler).Methods(http.MethodGet)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.accounts.Register(r.Context(), &req)
	if err != nil {
		s.sendServiceError(w, "Error registering user", err)
		return
	}

	s.sendJSON(w, http.StatusCreated, result)
}

// POST /login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.accounts.Login(r.Context(), &req)
	if err != nil {
		s.sendServiceError(w, "Error authenticating user", err)
		return
	}

	s.sendJSON(w, http.StatusOK, result)
}

// GET /users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.accounts.ListUsers(r.Context())
	if err != nil {
		s.sendServiceError(w, "Error retrieving users", err)
		return
	}
	if users == nil {
		users = []*types.User{}
	}
	s.sendJSON(w, http.StatusOK, users)
}

// POST /chat
// FUNCTIONAL DISCOVERY: Same path as the realtime "chat message" event, so an
// HTTP submission is persisted and broadcast to every admitted connection
func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatSubmission
	if !s.decode(w, r, &req) {
		return
	}

	// A client hanging up mid-request must not abort a commit other peers wait behind
	result, err := s.broadcaster.Submit(context.WithoutCancel(r.Context()), req.Username, req.Location, req.Message)
	if err != nil {
		s.sendServiceError(w, "Error sending message", err)
		return
	}

	s.sendJSON(w, http.StatusOK, result)
}

// GET /messages
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.GetHistory(r.Context())
	if err != nil {
		s.sendServiceError(w, "Error retrieving messages", err)
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
		System:      s.systemInfo(),
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

// systemInfo reports runtime and process figures; RSS is omitted where the
// platform does not expose it
func (s *Server) systemInfo() map[string]interface{} {
	info := map[string]interface{}{
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.log.Debug("Failed to inspect process", "error", err)
		return info
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		info["memory_rss_bytes"] = mem.RSS
	}
	return info
}

// decode reads a bounded JSON body; on failure the 400 has already been written
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// sendServiceError maps service errors onto status codes
// TECHNICAL DISCOVERY: Only validation text reaches the client; storage and
// codec details stay in the log
func (s *Server) sendServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case isValidationError(err):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, account.ErrInvalidCredentials):
		s.sendError(w, "Invalid username or password", http.StatusUnauthorized)
	case errors.Is(err, interfaces.ErrDuplicateUser):
		s.sendError(w, interfaces.ErrDuplicateUser.Error(), http.StatusConflict)
	default:
		s.log.Error(message, "error", err)
		s.sendError(w, message, http.StatusInternalServerError)
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		types.ErrInvalidUsername,
		types.ErrInvalidLocation,
		types.ErrMessageTooLarge,
		types.ErrInvalidEmail,
		types.ErrInvalidPassword,
		types.ErrInvalidSubmission,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
