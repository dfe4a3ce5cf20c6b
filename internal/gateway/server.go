package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fsco101/BloxMarket-Updated-sub003/internal/auth"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/config"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/middleware"
	"github.com/fsco101/BloxMarket-Updated-sub003/internal/store"
)

// Server wires the HTTP surface of the gateway: token minting, room history,
// health, and the WebSocket upgrade endpoint.
type Server struct {
	cfg     *config.Config
	issuer  *auth.Issuer
	hub     *Hub
	history store.History
	log     *slog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg *config.Config, issuer *auth.Issuer, hub *Hub, history store.History, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		issuer:  issuer,
		hub:     hub,
		history: history,
		log:     log,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	allowedOrigins := []string{"*"}
	if !s.cfg.IsDevelopment() {
		allowedOrigins = []string{s.cfg.FrontendURL}
	}
	r.Use(middleware.CORS(allowedOrigins))

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/tokens", s.handleMintToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/api/rooms/{roomID}/messages", s.handleListMessages)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// requireToken authenticates the request via its bearer token and stores the
// verified identity on the context.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			Error(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.issuer.Verify(token)
		if err != nil {
			Error(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), claims)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mintRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type mintResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Username = strings.TrimSpace(req.Username)
	if req.UserID == "" || req.Username == "" {
		Error(w, http.StatusBadRequest, "user_id and username are required")
		return
	}

	token, exp, err := s.issuer.Mint(req.UserID, req.Username)
	if err != nil {
		s.log.Error("failed to mint token", "error", err, "user_id", req.UserID)
		Error(w, http.StatusInternalServerError, "failed to mint token")
		return
	}

	s.log.Info("token minted", "user_id", req.UserID)
	JSON(w, http.StatusOK, mintResponse{Token: token, ExpiresAt: exp})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		Error(w, http.StatusBadRequest, "room id is required")
		return
	}

	limit := s.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := s.history.ListRecent(r.Context(), roomID, limit)
	if err != nil {
		s.log.Error("failed to list messages", "error", err, "room_id", roomID)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	username := auth.UsernameFromContext(r.Context())
	s.log.Info("websocket connection request", "user_id", userID, "ip", r.RemoteAddr)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			s.log.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	client := newClient(s.hub, s.history, conn, userID, username, s.cfg.ClientQueue, s.log)
	client.run(r.Context())
}
