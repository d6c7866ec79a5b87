// Package web exposes the daemon as a JSON API for the handset UI and the
// platform bridge.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/noahxzhu/safealert/internal/alert"
	"github.com/noahxzhu/safealert/internal/config"
	"github.com/noahxzhu/safealert/internal/model"
	"github.com/noahxzhu/safealert/internal/platform"
	"github.com/noahxzhu/safealert/internal/schedule"
	"github.com/noahxzhu/safealert/internal/storage"
)

// maxBody caps request bodies.
const maxBody = 1 << 16

type Contacts interface {
	List() []model.Contact
	Get(phone string) (model.Contact, error)
	Upsert(c model.Contact) (bool, error)
	Update(phone string, c model.Contact) error
	Remove(phone string) error
}

type Alerts interface {
	Toggle() (bool, error)
	KeyPress(key string) error
	Status() alert.Status
}

type Scheduler interface {
	Schedule(ctx context.Context, phone, message, clock string) (model.ScheduledMessage, error)
	Upcoming(ctx context.Context) ([]model.ScheduledMessage, error)
	Cancel(ctx context.Context, id string) error
}

type LocationSink interface {
	Update(loc model.Location)
}

// Check is a named dependency probe reported by /health.
type Check func(ctx context.Context) error

type Deps struct {
	Contacts    Contacts
	Alerts      Alerts
	Scheduler   Scheduler
	Locations   LocationSink
	Battery     *platform.Feed[model.BatteryEvent]
	Geofence    *platform.Feed[model.GeofenceEvent]
	Permissions *platform.Permissions
	Notices     *platform.Notices
	Geofences   []config.Region
	Checks      map[string]Check
}

type Server struct {
	deps   Deps
	apiKey string
	base   context.Context
	router *http.ServeMux
}

// NewServer builds the API. Events accepted over HTTP are handled under ctx,
// not the request context, so they outlive the response.
func NewServer(ctx context.Context, deps Deps, apiKey string) *Server {
	s := &Server{
		deps:   deps,
		apiKey: apiKey,
		base:   ctx,
		router: http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Public routes
	s.router.HandleFunc("GET /health", s.handleHealth)

	// Protected routes
	s.router.HandleFunc("GET /contacts", s.authMiddleware(s.handleListContacts))
	s.router.HandleFunc("POST /contacts", s.authMiddleware(s.handleUpsertContact))
	s.router.HandleFunc("PUT /contacts/{phone}", s.authMiddleware(s.handleUpdateContact))
	s.router.HandleFunc("DELETE /contacts/{phone}", s.authMiddleware(s.handleRemoveContact))

	s.router.HandleFunc("GET /alert", s.authMiddleware(s.handleAlertStatus))
	s.router.HandleFunc("POST /alert/toggle", s.authMiddleware(s.handleToggle))
	s.router.HandleFunc("POST /alert/key", s.authMiddleware(s.handleKey))

	s.router.HandleFunc("POST /events/location", s.authMiddleware(s.handleLocation))
	s.router.HandleFunc("POST /events/battery", s.authMiddleware(s.handleBattery))
	s.router.HandleFunc("POST /events/geofence", s.authMiddleware(s.handleGeofence))
	s.router.HandleFunc("GET /geofences", s.authMiddleware(s.handleGeofences))

	s.router.HandleFunc("GET /permissions", s.authMiddleware(s.handleGetPermissions))
	s.router.HandleFunc("PUT /permissions", s.authMiddleware(s.handleSetPermissions))
	s.router.HandleFunc("GET /notices", s.authMiddleware(s.handleNotices))

	s.router.HandleFunc("GET /scheduled", s.authMiddleware(s.handleListScheduled))
	s.router.HandleFunc("POST /scheduled", s.authMiddleware(s.handleSchedule))
	s.router.HandleFunc("DELETE /scheduled/{id}", s.authMiddleware(s.handleCancelScheduled))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Middleware
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			key = bearer
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		next(w, r)
	}
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			slog.Warn("Health check failed", "check", name, "error", err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Contacts.List())
}

func (s *Server) handleUpsertContact(w http.ResponseWriter, r *http.Request) {
	var c model.Contact
	if !decode(w, r, &c) {
		return
	}

	created, err := s.deps.Contacts.Upsert(c)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	stored, err := s.deps.Contacts.Get(c.Phone)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, stored)
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var c model.Contact
	if !decode(w, r, &c) {
		return
	}

	if err := s.deps.Contacts.Update(r.PathValue("phone"), c); err != nil {
		writeStoreError(w, err)
		return
	}
	stored, err := s.deps.Contacts.Get(c.Phone)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Contacts.Remove(r.PathValue("phone")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Alerts.Status())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Alerts.Toggle(); err != nil {
		writeAlertError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Alerts.Status())
}

type keyRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.deps.Alerts.KeyPress(req.Key); err != nil {
		writeAlertError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.deps.Alerts.Status())
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var loc model.Location
	if !decode(w, r, &loc) {
		return
	}
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	if loc.Time.IsZero() {
		loc.Time = time.Now()
	}
	s.deps.Locations.Update(loc)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	var ev model.BatteryEvent
	if !decode(w, r, &ev) {
		return
	}
	if ev.Level < 0 || ev.Level > 100 {
		writeError(w, http.StatusBadRequest, "level must be between 0 and 100")
		return
	}
	s.deps.Battery.Publish(s.base, ev)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGeofence(w http.ResponseWriter, r *http.Request) {
	var ev model.GeofenceEvent
	if !decode(w, r, &ev) {
		return
	}
	s.deps.Geofence.Publish(s.base, ev)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGeofences(w http.ResponseWriter, r *http.Request) {
	regions := s.deps.Geofences
	if regions == nil {
		regions = []config.Region{}
	}
	writeJSON(w, http.StatusOK, regions)
}

func (s *Server) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Permissions.Snapshot())
}

func (s *Server) handleSetPermissions(w http.ResponseWriter, r *http.Request) {
	var states map[model.Permission]bool
	if !decode(w, r, &states) {
		return
	}
	s.deps.Permissions.Set(states)
	writeJSON(w, http.StatusOK, s.deps.Permissions.Snapshot())
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Notices.Drain())
}

func (s *Server) handleListScheduled(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Scheduler.Upcoming(r.Context())
	if err != nil {
		slog.Error("Failed to list scheduled messages", "error", err)
		writeError(w, http.StatusBadGateway, "scheduler unavailable")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type scheduleRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decode(w, r, &req) {
		return
	}

	msg, err := s.deps.Scheduler.Schedule(r.Context(), req.Phone, req.Message, req.Time)
	switch {
	case errors.Is(err, schedule.ErrInvalidTime), errors.Is(err, schedule.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		slog.Error("Failed to schedule message", "error", err)
		writeError(w, http.StatusBadGateway, "scheduler unavailable")
	default:
		writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleCancelScheduled(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Scheduler.Cancel(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		slog.Error("Failed to cancel scheduled message", "error", err)
		writeError(w, http.StatusBadGateway, "scheduler unavailable")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidContact):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "contact not found")
	default:
		slog.Error("Failed to save contacts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save contacts")
	}
}

func writeAlertError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alert.ErrNoContacts), errors.Is(err, alert.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, alert.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, alert.ErrCooldown):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, alert.ErrIgnoredKey):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Alert request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
