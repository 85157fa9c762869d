// Package httpserver exposes a small HTTP control surface over feed sessions.
package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/feedgate/internal/domain/errs"
	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed/session"
	"github.com/coachpo/feedgate/internal/infra/config"
)

const (
	maxJSONBodyBytes int64 = 1 << 16

	healthPath          = "/health"
	sessionsPath        = "/sessions"
	sessionDetailPrefix = sessionsPath + "/"
)

// Sessions is the subset of session.Manager the control surface drives.
type Sessions interface {
	Snapshots() []session.Snapshot
	Snapshot(accountID string) (session.Snapshot, error)
	Subscribe(accountID string, topic schema.Topic, scope schema.Scope) (schema.SubscriptionKey, error)
	Unsubscribe(accountID string, key schema.SubscriptionKey) error
	Close(accountID string) error
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	environment config.Environment
	sessions    Sessions
}

type subscriptionPayload struct {
	Topic string            `json:"topic"`
	Scope map[string]string `json:"scope,omitempty"`
}

type subscriptionView struct {
	Key    string            `json:"key"`
	Topic  string            `json:"topic"`
	Scope  map[string]string `json:"scope,omitempty"`
	State  string            `json:"state"`
	Reason string            `json:"reason,omitempty"`
}

type sessionView struct {
	AccountID     string             `json:"accountId"`
	State         string             `json:"state"`
	Attempts      int                `json:"attempts"`
	ConnectionID  string             `json:"connectionId,omitempty"`
	Subscriptions []subscriptionView `json:"subscriptions"`
}

// NewHandler creates the control handler.
func NewHandler(environment config.Environment, sessions Sessions) http.Handler {
	server := &httpServer{environment: environment, sessions: sessions}
	mux := http.NewServeMux()

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(sessionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listSessions,
	}))
	mux.Handle(sessionDetailPrefix, http.HandlerFunc(server.handleSession))

	return mux
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	counts := make(map[string]int)
	for _, snap := range s.sessions.Snapshots() {
		counts[snap.State.String()]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": s.environment,
		"sessions":    counts,
	})
}

func (s *httpServer) listSessions(w http.ResponseWriter, _ *http.Request) {
	snaps := s.sessions.Snapshots()
	views := make([]sessionView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, toSessionView(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// handleSession serves /sessions/{id}, /sessions/{id}/subscriptions and
// /sessions/{id}/close.
func (s *httpServer) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, sessionDetailPrefix), "/")
	id, action, hasAction := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusNotFound, "account id required")
		return
	}

	if !hasAction {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.writeSession(w, http.StatusOK, id)
		return
	}

	switch strings.TrimSpace(action) {
	case "subscriptions":
		s.handleSubscriptions(w, r, id)
	case "close":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if err := s.sessions.Close(id); err != nil {
			writeSessionError(w, err)
			return
		}
		s.writeSession(w, http.StatusOK, id)
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
	}
}

func (s *httpServer) handleSubscriptions(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		payload, err := decodeSubscriptionPayload(r)
		if err != nil {
			writeDecodeError(w, err)
			return
		}
		topic, err := schema.ParseTopic(payload.Topic)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		key, err := s.sessions.Subscribe(id, topic, schema.Scope(payload.Scope))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "key": string(key)})
	case http.MethodDelete:
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		if key == "" {
			writeError(w, http.StatusBadRequest, "key query parameter required")
			return
		}
		if err := s.sessions.Unsubscribe(id, schema.SubscriptionKey(key)); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "key": key})
	default:
		methodNotAllowed(w, http.MethodDelete, http.MethodPost)
	}
}

func (s *httpServer) writeSession(w http.ResponseWriter, status int, id string) {
	snap, err := s.sessions.Snapshot(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, status, toSessionView(snap))
}

func toSessionView(snap session.Snapshot) sessionView {
	view := sessionView{
		AccountID:     snap.AccountID,
		State:         snap.State.String(),
		Attempts:      snap.Attempts,
		ConnectionID:  snap.ConnectionID,
		Subscriptions: make([]subscriptionView, 0, len(snap.Subscriptions)),
	}
	for _, entry := range snap.Subscriptions {
		view.Subscriptions = append(view.Subscriptions, subscriptionView{
			Key:    string(entry.Subscription.Key),
			Topic:  string(entry.Subscription.Topic),
			Scope:  entry.Subscription.Scope,
			State:  entry.State.String(),
			Reason: entry.Reason,
		})
	}
	return view
}

func decodeSubscriptionPayload(r *http.Request) (subscriptionPayload, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	var payload subscriptionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch errs.CodeOf(err) {
	case errs.CodeNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case errs.CodeConflict, errs.CodeUnavailable:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
