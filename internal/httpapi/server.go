package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crmrebs/leadconsole/internal/audit"
	"github.com/crmrebs/leadconsole/internal/backend"
	"github.com/crmrebs/leadconsole/internal/leads"
)

type ServerConfig struct {
	// Password is the operator password checked at login.
	Password      string
	SessionSecret string
	SessionTTL    time.Duration
	MaxBodyBytes  int64
	// DefaultTemplate names the outreach template used when a send does
	// not specify one.
	DefaultTemplate string
	// DefaultDialCode is prepended to local-format lister phone numbers
	// before display.
	DefaultDialCode string
	// ConversationIdle is how long an open conversation may go untouched
	// before its polling loop is stopped.
	ConversationIdle time.Duration
	ConversationPoll time.Duration
}

// Server is the local console surface: session auth, the JSON API backing
// the dashboard, the dashboard itself, and the live update feed.
type Server struct {
	newStore     *leads.Store
	historyStore *leads.Store
	client       backend.Client
	bulk         *leads.BulkSender
	auditLog     *audit.Log
	cfg          ServerConfig
	logger       leads.Logger
	hub          *liveHub
	router       *mux.Router

	baseCtx    context.Context
	baseCancel context.CancelFunc

	convMu sync.Mutex
	convs  map[string]*openConversation
}

type openConversation struct {
	conv     *leads.Conversation
	cancel   context.CancelFunc
	lastUsed time.Time
}

func NewServer(newStore, historyStore *leads.Store, client backend.Client, auditLog *audit.Log, cfg ServerConfig, logger leads.Logger) *Server {
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "dev-secret"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ConversationIdle <= 0 {
		cfg.ConversationIdle = 2 * time.Minute
	}
	if cfg.ConversationPoll <= 0 {
		cfg.ConversationPoll = 5 * time.Second
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	s := &Server{
		newStore:     newStore,
		historyStore: historyStore,
		client:       client,
		bulk:         &leads.BulkSender{Store: newStore, Logger: logger},
		auditLog:     auditLog,
		cfg:          cfg,
		logger:       logger,
		hub:          newLiveHub(logger),
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
		convs:        map[string]*openConversation{},
	}
	s.router = s.buildRouter()
	go s.reapIdleConversations()
	return s
}

// Close stops conversation polling and disconnects live subscribers.
func (s *Server) Close() {
	s.baseCancel()
}

// NotifyChange pushes a snapshot-change event to live subscribers.
func (s *Server) NotifyChange(view string) {
	version := uint64(0)
	switch view {
	case "new":
		version = s.newStore.Version()
	case "history":
		version = s.historyStore.Version()
	}
	s.hub.broadcast(liveEvent{View: view, Version: version})
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/console", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/console/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/console/live", s.handleLive).Methods(http.MethodGet)

	api := r.PathPrefix("/console/api").Subrouter()
	api.Use(s.requireSession)
	api.HandleFunc("/leads", s.handleLeads).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	api.HandleFunc("/send-batch", s.handleSendBatch).Methods(http.MethodPost)
	api.HandleFunc("/templates", s.handleTemplates).Methods(http.MethodGet)
	api.HandleFunc("/leads/{id}/messages", s.handleMessages).Methods(http.MethodGet)
	api.HandleFunc("/leads/{id}/reply", s.handleReply).Methods(http.MethodPost)
	api.HandleFunc("/leads/{id}/mark-read", s.handleMarkRead).Methods(http.MethodPost)
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if s.cfg.Password == "" {
		writeError(w, http.StatusInternalServerError, "not_configured", "operator password is not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Password), []byte(s.cfg.Password)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid password")
		return
	}
	// Establish the backend session through the shared client so the
	// pollers pick up the session cookie too.
	if err := s.client.Login(r.Context(), body.Password); err != nil {
		s.logf("backend login failed: %v", err)
		s.writeBackendError(w, err)
		return
	}
	token := mintSessionToken(s.cfg.SessionSecret, "operator", time.Now().UTC(), s.cfg.SessionTTL)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
	})
	s.newStore.Kick()
	s.historyStore.Kick()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authErr := s.checkSession(r); authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkSession(r *http.Request) *authError {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return &authError{status: 401, code: "unauthorized", message: "not authenticated"}
	}
	_, authErr := verifySessionToken(s.cfg.SessionSecret, cookie.Value, time.Now().UTC())
	return authErr
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	store, view := s.storeForView(r.URL.Query().Get("view"))
	filters, err := parseFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	mode := leads.GroupByDateAdded
	if r.URL.Query().Get("groupBy") == string(leads.GroupByLastActivity) {
		mode = leads.GroupByLastActivity
	}

	snapshot := store.Snapshot()
	for i := range snapshot {
		snapshot[i].ListerPhone = leads.NormalizePhone(snapshot[i].ListerPhone, s.cfg.DefaultDialCode)
	}
	options := leads.DeriveFilterOptions(snapshot)
	matched := filters.Apply(snapshot)
	buckets := leads.Group(matched, mode, time.Now())

	response := map[string]any{
		"view":       view,
		"options":    options,
		"buckets":    buckets,
		"total":      len(snapshot),
		"matched":    len(matched),
		"pending":    store.PendingIDs(),
		"refreshing": store.Refreshing(),
		"version":    store.Version(),
	}
	if lastErr := store.LastError(); lastErr != nil {
		response["lastError"] = lastErr.Error()
		response["authExpired"] = errors.Is(lastErr, backend.ErrAuthExpired)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	store, view := s.storeForView(r.URL.Query().Get("view"))
	if err := store.Refresh(r.Context()); err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"view": view, "version": store.Version()})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PropertyID string `json:"property_id"`
		Template   string `json:"template_name"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.PropertyID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "property_id is required")
		return
	}
	template := body.Template
	if template == "" {
		template = s.cfg.DefaultTemplate
	}
	err := s.newStore.Send(r.Context(), body.PropertyID, template)
	if auditErr := s.auditLog.RecordSend(r.Context(), body.PropertyID, err == nil, noteForError(err)); auditErr != nil {
		s.logf("audit record failed: %v", auditErr)
	}
	if err != nil {
		if errors.Is(err, leads.ErrSendInFlight) {
			writeError(w, http.StatusConflict, "send_in_flight", "a send for this lead is already in flight")
			return
		}
		s.writeBackendError(w, err)
		return
	}
	s.NotifyChange("new")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PropertyIDs []string `json:"property_ids"`
		Template    string   `json:"template_name"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if len(body.PropertyIDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "property_ids is required")
		return
	}
	template := body.Template
	if template == "" {
		template = s.cfg.DefaultTemplate
	}
	result := s.bulk.SendMany(r.Context(), body.PropertyIDs, template)
	if auditErr := s.auditLog.RecordBatch(r.Context(), result.Sent, result.Failed); auditErr != nil {
		s.logf("audit record failed: %v", auditErr)
	}
	if result.Sent > 0 {
		s.NotifyChange("new")
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.client.ListTemplates(r.Context())
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	conv := s.conversation(mux.Vars(r)["id"])
	if err := conv.RefreshMessages(r.Context()); err != nil {
		s.writeBackendError(w, err)
		return
	}
	response := map[string]any{"messages": conv.Messages()}
	if draft := conv.Draft(); draft != "" {
		response["draft"] = draft
	}
	if sendErr := conv.SendError(); sendErr != nil {
		response["sendError"] = sendErr.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	conv := s.conversation(mux.Vars(r)["id"])
	if err := conv.SendReply(r.Context(), body.Message); err != nil {
		s.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.client.MarkRead(r.Context(), id); err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.newStore.Kick()
	s.historyStore.Kick()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) storeForView(view string) (*leads.Store, string) {
	if view == "history" {
		return s.historyStore, "history"
	}
	return s.newStore, "new"
}

// conversation returns the open controller for a lead, creating it (and
// starting its polling loop) on first access.
func (s *Server) conversation(propertyID string) *leads.Conversation {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	if open, ok := s.convs[propertyID]; ok {
		open.lastUsed = time.Now()
		return open.conv
	}
	conv, err := leads.NewConversation(leads.ConversationOptions{
		PropertyID: propertyID,
		Messages:   s.client.Messages,
		Reply:      s.client.Reply,
		MarkRead:   s.client.MarkRead,
		Interval:   s.cfg.ConversationPoll,
		Logger:     s.logger,
		Notify: func() {
			s.newStore.Kick()
			s.historyStore.Kick()
		},
	})
	if err != nil {
		// Only reachable with an empty id, which the router never routes.
		panic(err)
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.convs[propertyID] = &openConversation{conv: conv, cancel: cancel, lastUsed: time.Now()}
	conv.Open(ctx)
	go conv.Run(ctx)
	return conv
}

// reapIdleConversations stops polling loops for conversations nobody has
// touched within the idle window.
func (s *Server) reapIdleConversations() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-s.cfg.ConversationIdle)
		s.convMu.Lock()
		for id, open := range s.convs {
			if open.lastUsed.Before(cutoff) {
				open.cancel()
				delete(s.convs, id)
			}
		}
		s.convMu.Unlock()
	}
}

func (s *Server) writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrAuthExpired):
		writeError(w, http.StatusUnauthorized, "auth_expired", "backend session expired; log in again")
	case errors.Is(err, backend.ErrRejected):
		writeError(w, http.StatusBadRequest, "rejected", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "backend_unavailable", err.Error())
	}
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(out); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func (s *Server) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// parseFilters builds a filter specification from dashboard query params.
// Absent or blank params leave the corresponding clause inactive.
func parseFilters(query map[string][]string) (leads.Filters, error) {
	get := func(name string) string {
		values := query[name]
		if len(values) == 0 {
			return ""
		}
		return strings.TrimSpace(values[0])
	}

	var filters leads.Filters
	if raw := get("propertyTypes"); raw != "" {
		for _, piece := range strings.Split(raw, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			value, err := strconv.Atoi(piece)
			if err != nil {
				return leads.Filters{}, errors.New("invalid propertyTypes value: " + piece)
			}
			filters.PropertyTypes = append(filters.PropertyTypes, value)
		}
	}
	var err error
	if filters.RegionID, err = optionalInt(get("regionId")); err != nil {
		return leads.Filters{}, errors.New("invalid regionId")
	}
	if filters.ZoneID, err = optionalInt(get("zoneId")); err != nil {
		return leads.Filters{}, errors.New("invalid zoneId")
	}
	filters.Transaction.Sale = get("sale") == "true"
	filters.Transaction.Rent = get("rent") == "true"
	filters.Rooms = get("rooms")
	if filters.MinBudget, err = optionalFloat(get("minBudget")); err != nil {
		return leads.Filters{}, errors.New("invalid minBudget")
	}
	if filters.MaxBudget, err = optionalFloat(get("maxBudget")); err != nil {
		return leads.Filters{}, errors.New("invalid maxBudget")
	}
	if filters.DateFrom, err = optionalDate(get("dateFrom")); err != nil {
		return leads.Filters{}, errors.New("invalid dateFrom")
	}
	if filters.DateTo, err = optionalDate(get("dateTo")); err != nil {
		return leads.Filters{}, errors.New("invalid dateTo")
	}
	return filters, nil
}

func optionalInt(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func optionalFloat(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func optionalDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func noteForError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
