package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	authapp "pokemeetup-server/internal/app/auth"
	worldapp "pokemeetup-server/internal/app/world"
)

type Handler struct {
	logger      zerolog.Logger
	auth        *authapp.Service
	world       *worldapp.Service
	corsOrigin  string
	maxBodySize int64
	wsReadLimit int64
}

func NewHandler(logger zerolog.Logger, auth *authapp.Service, world *worldapp.Service, corsOrigin string, maxBodySize, wsReadLimit int64) *Handler {
	return &Handler{
		logger:      logger.With().Str("component", "api").Logger(),
		auth:        auth,
		world:       world,
		corsOrigin:  corsOrigin,
		maxBodySize: maxBodySize,
		wsReadLimit: wsReadLimit,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.cors)

	// The websocket outlives any request timeout.
	r.Get("/v1/world/ws", h.worldWS)

	r.Group(func(rest chi.Router) {
		rest.Use(middleware.Timeout(20 * time.Second))
		rest.Get("/healthz", h.health)
		rest.Get("/readyz", h.ready)

		rest.Route("/v1", func(v1 chi.Router) {
			v1.Get("/server/info", h.serverInfo)
			v1.Post("/auth/register", h.register)
			v1.Post("/auth/login", h.login)
			v1.Get("/world/players", h.worldPlayers)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) ready(w http.ResponseWriter, _ *http.Request) {
	if !h.world.Accepting() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "shutting down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (h *Handler) serverInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.world.Info())
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !h.decodeBody(w, r, &req) {
		return
	}
	err := h.auth.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "username": req.Username})
	case errors.Is(err, authapp.ErrUsernameTaken):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, authapp.ErrInvalidUsername), errors.Is(err, authapp.ErrMissingFields):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	default:
		h.logger.Error().Err(err).Str("username", req.Username).Msg("registration failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !h.decodeBody(w, r, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, authapp.ErrInvalidCredentials) {
			h.logger.Error().Err(err).Str("username", req.Username).Msg("login failed")
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) worldPlayers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"players": h.world.OnlinePlayers()})
}

func (h *Handler) cors(next http.Handler) http.Handler {
	origin := h.corsOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
