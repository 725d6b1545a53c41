// Package server is the HTTP long-poll surface over the chat core. Every
// GET poll doubles as a heartbeat: the caller's liveness is touched
// before the wait, so a client that keeps polling never expires.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/christopherjohns/parlor/internal/chat"
	"github.com/christopherjohns/parlor/internal/config"
	"github.com/christopherjohns/parlor/internal/message"
	"github.com/christopherjohns/parlor/internal/ratelimit"
	"github.com/christopherjohns/parlor/internal/session"
)

// maxNameLength bounds user and room names taken from requests.
const maxNameLength = 64

// Server routes HTTP requests to the chat core.
type Server struct {
	mux          *http.ServeMux
	httpServer   *http.Server
	chat         *chat.Service
	codec        *session.Codec
	limiter      *ratelimit.IPLimiter
	pollTimeout  time.Duration
	ttl          time.Duration
	historyLimit int
	blocked      map[string]struct{}
}

// New creates a Server over the chat core. The optional stream handler
// serves the /ws change-hint endpoint.
func New(cfg config.Config, svc *chat.Service, stream http.Handler) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		chat:         svc,
		codec:        session.NewCodec([]byte(cfg.CookieSecret)),
		limiter:      ratelimit.NewIPLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		pollTimeout:  cfg.PollTimeout,
		ttl:          cfg.LivenessTTL,
		historyLimit: cfg.HistoryLimit,
		blocked:      make(map[string]struct{}, len(cfg.BlockedRooms)),
	}
	for _, room := range cfg.BlockedRooms {
		s.blocked[room] = struct{}{}
	}
	s.routes(stream)
	s.httpServer = &http.Server{Addr: cfg.ListenAddr, Handler: s.mux}
	return s
}

// Run starts the HTTP server and blocks until it stops. The rate
// limiter's prune loop runs alongside and stops with the server.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.limiter.Run(ctx)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes(stream http.Handler) {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/register", s.handleRegister)
	s.mux.HandleFunc("GET /api/rooms", s.handleRooms)
	s.mux.HandleFunc("GET /api/rooms/{room}/users", s.handleUsers)
	s.mux.HandleFunc("GET /api/rooms/{room}/messages", s.handleMessages)
	s.mux.HandleFunc("POST /api/rooms/{room}/messages", s.handleSendMessage)
	s.mux.HandleFunc("POST /api/rooms/{room}/ignore", s.handleIgnore)
	s.mux.HandleFunc("POST /api/rooms/{room}/unignore", s.handleUnignore)
	if stream != nil {
		s.mux.Handle("GET /ws", stream)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Name string `json:"name"`
	Room string `json:"room,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !s.limiter.Allow(ip) {
		writeError(w, http.StatusTooManyRequests, "slow down")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > maxNameLength {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Room != "" && s.roomBlocked(req.Room) {
		writeError(w, http.StatusNotFound, "no such room")
		return
	}

	secret, ok, err := s.chat.Register(r.Context(), req.Name, ip)
	if err != nil {
		s.serverError(w, "register", err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "name '"+req.Name+"' is taken")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    s.codec.Encode(session.Session{Name: req.Name, Secret: secret}),
		Path:     "/",
		HttpOnly: true,
	})

	if err := s.chat.Touch(r.Context(), req.Name, s.ttl, req.Room); err != nil {
		s.serverError(w, "register touch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": req.Name})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.pollTimeout)
	defer cancel()

	if user := s.currentUser(r); user != "" {
		if err := s.chat.Touch(ctx, user, s.ttl, ""); err != nil {
			s.serverError(w, "rooms touch", err)
			return
		}
	}

	id, rooms, err := s.chat.Rooms(ctx, cursorParam(r))
	if err != nil {
		s.serverError(w, "rooms", err)
		return
	}

	visible := rooms[:0]
	for _, room := range rooms {
		if !s.roomBlocked(room.Name) {
			visible = append(visible, room)
		}
	}
	if visible == nil {
		visible = []chat.RoomInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "rooms": visible})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.pollTimeout)
	defer cancel()

	if user := s.currentUser(r); user != "" {
		if err := s.chat.Touch(ctx, user, s.ttl, room); err != nil {
			s.serverError(w, "users touch", err)
			return
		}
	}

	id, users, err := s.chat.Users(ctx, room, cursorParam(r))
	if err != nil {
		s.serverError(w, "users", err)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "users": users})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.pollTimeout)
	defer cancel()

	viewer := s.currentUser(r)
	if viewer != "" {
		if err := s.chat.Touch(ctx, viewer, s.ttl, room); err != nil {
			s.serverError(w, "messages touch", err)
			return
		}
	}

	limit := s.historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < limit {
			limit = n
		}
	}

	id, msgs, err := s.chat.Messages(ctx, room, cursorParam(r), viewer, limit)
	if err != nil {
		s.serverError(w, "messages", err)
		return
	}
	if msgs == nil {
		msgs = []message.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "messages": msgs})
}

type sendRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomParam(w, r)
	if !ok {
		return
	}
	user := s.currentUser(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "you are no longer logged in")
		return
	}
	if !s.limiter.Allow(remoteIP(r)) {
		writeError(w, http.StatusTooManyRequests, "slow down")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sent, err := s.chat.SendMessage(r.Context(), room, user, req.Message)
	if err != nil {
		s.serverError(w, "send message", err)
		return
	}
	if !sent {
		writeError(w, http.StatusForbidden, "could not send message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type ignoreRequest struct {
	IgnoredUser string `json:"ignored_user"`
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	room, user, ignored, ok := s.ignoreParams(w, r)
	if !ok {
		return
	}

	// The audit value is the ignored user's registered IP.
	ip, err := s.chat.UserIP(r.Context(), ignored)
	if err != nil {
		s.serverError(w, "ignore", err)
		return
	}

	done, err := s.chat.Ignore(r.Context(), room, user, ignored, ip)
	if err != nil {
		s.serverError(w, "ignore", err)
		return
	}
	if !done {
		writeError(w, http.StatusForbidden, "could not ignore user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
}

func (s *Server) handleUnignore(w http.ResponseWriter, r *http.Request) {
	room, user, ignored, ok := s.ignoreParams(w, r)
	if !ok {
		return
	}

	done, err := s.chat.Unignore(r.Context(), room, user, ignored)
	if err != nil {
		s.serverError(w, "unignore", err)
		return
	}
	if !done {
		writeError(w, http.StatusForbidden, "could not unignore user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unignored"})
}

// ignoreParams validates the shared preconditions of the ignore and
// unignore handlers.
func (s *Server) ignoreParams(w http.ResponseWriter, r *http.Request) (room, user, ignored string, ok bool) {
	room, ok = s.roomParam(w, r)
	if !ok {
		return "", "", "", false
	}
	user = s.currentUser(r)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "you are no longer logged in")
		return "", "", "", false
	}

	var req ignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return "", "", "", false
	}
	if req.IgnoredUser == "" {
		writeError(w, http.StatusBadRequest, "ignored_user is required")
		return "", "", "", false
	}
	return room, user, req.IgnoredUser, true
}

// currentUser resolves the session cookie to a validated user name, or
// "" for anonymous or stale sessions.
func (s *Server) currentUser(r *http.Request) string {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		return ""
	}
	sess, ok := s.codec.Decode(cookie.Value)
	if !ok {
		return ""
	}
	valid, err := s.chat.Validate(r.Context(), sess.Name, sess.Secret)
	if err != nil {
		log.Printf("server: validate %s: %v", sess.Name, err)
		return ""
	}
	if !valid {
		return ""
	}
	return sess.Name
}

// roomParam extracts and vets the {room} path segment.
func (s *Server) roomParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	room := r.PathValue("room")
	if room == "" || len(room) > maxNameLength || s.roomBlocked(room) {
		writeError(w, http.StatusNotFound, "no such room")
		return "", false
	}
	return room, true
}

func (s *Server) roomBlocked(room string) bool {
	_, blocked := s.blocked[room]
	return blocked
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	log.Printf("server: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// cursorParam reads the ?id= query value; absent or malformed means "no
// cursor", which makes blocking reads return immediately.
func cursorParam(r *http.Request) int {
	v := r.URL.Query().Get("id")
	if v == "" {
		return chat.NoCursor
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return chat.NoCursor
	}
	return n
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
