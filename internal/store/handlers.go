package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/anirudhms/chatrelay/internal/httpserver"
)

const defaultHistoryLimit = 100

// API exposes the store over HTTP. A nil Store means persistence is not
// configured; every route then answers 503 so clients can tell the relay
// itself is still healthy.
type API struct {
	store *Store
	log   *slog.Logger
}

func NewAPI(s *Store, logger *slog.Logger) *API {
	return &API{store: s, log: logger}
}

// Register mounts the user and message routes. Registration is an upsert of
// the user profile; there are no credentials, since room membership is
// unauthenticated.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", a.withStore(a.createUser))
	mux.HandleFunc("GET /api/users", a.withStore(a.listUsers))
	mux.HandleFunc("POST /api/users", a.withStore(a.createUser))
	mux.HandleFunc("GET /api/users/{username}", a.withStore(a.getUser))
	mux.HandleFunc("GET /api/messages", a.withStore(a.history))
	mux.HandleFunc("POST /api/messages", a.withStore(a.createMessage))
}

func (a *API) withStore(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.store == nil {
			httpserver.WriteError(w, http.StatusServiceUnavailable,
				"store_unavailable", "persistence is not configured")
			return
		}
		next(w, r)
	}
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		a.fail(w, "list users", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, users)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		AvatarURL string `json:"avatarUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid_body", "username is required")
		return
	}

	user, err := a.store.UpsertUser(r.Context(), req.Username, req.AvatarURL)
	if err != nil {
		a.fail(w, "create user", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, user)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.GetUser(r.Context(), r.PathValue("username"))
	if errors.Is(err, ErrNotFound) {
		httpserver.WriteError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}
	if err != nil {
		a.fail(w, "get user", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, user)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	sender := strings.TrimSpace(r.URL.Query().Get("sender"))
	receiver := strings.TrimSpace(r.URL.Query().Get("receiver"))
	if sender == "" || receiver == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid_query", "sender and receiver are required")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpserver.WriteError(w, http.StatusBadRequest, "invalid_query", "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := a.store.History(r.Context(), sender, receiver, limit)
	if err != nil {
		a.fail(w, "message history", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, msgs)
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	msg.Sender = strings.TrimSpace(msg.Sender)
	msg.Receiver = strings.TrimSpace(msg.Receiver)
	if msg.Sender == "" || msg.Receiver == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid_body", "sender and receiver are required")
		return
	}
	if msg.Text == "" && msg.ImageURL == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid_body", "message needs text or an image")
		return
	}

	saved, err := a.store.SaveMessage(r.Context(), msg)
	if err != nil {
		a.fail(w, "save message", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, saved)
}

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	a.log.Error("store operation failed", "op", op, "err", err)
	httpserver.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
}
