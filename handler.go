package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Status is a snapshot of the controller for introspection.
type Status struct {
	State       string   `json:"state"`
	Version     string   `json:"version"`
	Partitions  []string `json:"partitions"`
	Pending     int      `json:"pending"`
	DeadLetters int      `json:"deadLetters"`
	SyncTags    []string `json:"syncTags"`
}

// Status returns the lifecycle state, the partitions and the queue size.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	status := Status{
		State:    c.State().String(),
		Version:  c.version,
		SyncTags: c.SyncTags(),
	}
	var err error
	if status.Partitions, err = c.cache.Partitions(); err != nil {
		return status, err
	}
	pending, err := c.queue.List(ctx)
	if err != nil {
		return status, err
	}
	status.Pending = len(pending)
	dead, err := c.queue.DeadLetters(ctx)
	if err != nil {
		return status, err
	}
	status.DeadLetters = len(dead)
	return status, nil
}

// Router returns the complete HTTP surface: the control endpoints below
// `/.offline/`, the metrics endpoint and the interception of everything else.
func (c *Controller) Router() http.Handler {
	r := chi.NewRouter()
	r.Route("/.offline", func(r chi.Router) {
		r.Post("/install", c.handleInstall)
		r.Post("/activate", c.handleActivate)
		r.Post("/sync", c.handleSync)
		r.Post("/push", c.handlePush)
		r.Post("/notificationclick", c.handleNotificationClick)
		r.Get("/status", c.handleStatus)
	})
	if h := c.metrics.Handler(); h != nil {
		r.Method(http.MethodGet, "/metrics", h)
	}
	r.Handle("/*", c)
	return r
}

func (c *Controller) handleInstall(w http.ResponseWriter, r *http.Request) {
	if err := c.Start(r.Context()); err != nil {
		c.writeError(w, lifecycleStatus(err), err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"state": c.State().String()})
}

func (c *Controller) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := c.Activate(r.Context()); err != nil {
		c.writeError(w, lifecycleStatus(err), err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"state": c.State().String()})
}

func (c *Controller) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := c.Sync(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, err)
		return
	}
	c.writeJSON(w, http.StatusOK, report)
}

func (c *Controller) handlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		c.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := c.HandlePush(r.Context(), payload); err != nil {
		c.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var click NotificationClick
	if err := json.NewDecoder(r.Body).Decode(&click); err != nil {
		c.writeError(w, http.StatusBadRequest, err)
		return
	}
	opened, err := c.HandleNotificationClick(r.Context(), click)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"opened": opened})
}

func (c *Controller) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := c.Status(r.Context())
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, err)
		return
	}
	c.writeJSON(w, http.StatusOK, status)
}

func lifecycleStatus(err error) int {
	if errors.Is(err, ErrLifecycleBusy) || errors.Is(err, ErrNotInstalled) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func (c *Controller) writeError(w http.ResponseWriter, status int, err error) {
	c.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.log.Error().Err(err).Msg("Could not write response")
	}
}
