package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/routeforge/routeforge/internal/errz"
	"github.com/routeforge/routeforge/internal/events"
	"github.com/routeforge/routeforge/internal/exchange"
	"github.com/routeforge/routeforge/internal/routes"
)

// maxBodyBytes bounds mutation request bodies.
const maxBodyBytes = 1 << 20

// response is the envelope every mutation endpoint returns.
type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
	Output  any    `json:"output,omitempty"`
}

func (r *Runner) writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		r.logger.Warn("Failed to encode response", "error", err)
	}
}

func (r *Runner) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errz.ErrRouteNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errz.ErrValidation),
		errors.Is(err, errz.ErrSchemaVersion),
		errors.Is(err, errz.ErrCompileFailure),
		errors.Is(err, errz.ErrRouteAlreadyDeployed),
		errors.Is(err, errz.ErrRouteNotDeployed):
		status = http.StatusBadRequest
	}
	r.writeJSON(w, status, response{Success: false, Error: err.Error()})
}

// target identifies one route in a request, by query parameters or JSON body.
type target struct {
	Tenant string `json:"tenant"`
	ID     string `json:"id"`
}

func (r *Runner) readTarget(req *http.Request) (target, error) {
	t := target{
		Tenant: req.URL.Query().Get("tenant"),
		ID:     req.URL.Query().Get("id"),
	}
	if t.ID == "" && req.Body != nil {
		data, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
		if err != nil {
			return t, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &t); err != nil {
				return t, err
			}
		}
	}
	if t.Tenant == "" {
		t.Tenant = r.tenant
	}
	if t.ID == "" {
		return t, errors.New("missing route id")
	}
	return t, nil
}

func (r *Runner) handleHealth(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, response{Success: true, Data: map[string]string{"status": "ok"}})
}

func (r *Runner) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.writeJSON(w, http.StatusMethodNotAllowed, response{Success: false, Error: "POST required"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		r.writeError(w, err)
		return
	}
	def, err := routes.ParseDefinition(data)
	if err != nil {
		r.writeError(w, err)
		return
	}
	if def.TenantID == "" || def.TenantID == routes.DefaultTenant {
		def.TenantID = r.tenant
	}
	if err := r.registry.Deploy(req.Context(), def); err != nil {
		r.writeError(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, response{Success: true, Data: map[string]string{"key": def.Key()}})
}

func (r *Runner) handleList(w http.ResponseWriter, req *http.Request) {
	tenant := req.URL.Query().Get("tenant")
	if tenant == "" {
		tenant = r.tenant
	}
	defs := r.registry.List(tenant)
	r.writeJSON(w, http.StatusOK, response{Success: true, Data: defs})
}

func (r *Runner) handleGet(w http.ResponseWriter, req *http.Request) {
	t, err := r.readTarget(req)
	if err != nil {
		r.writeJSON(w, http.StatusBadRequest, response{Success: false, Error: err.Error()})
		return
	}
	def, err := r.registry.Get(t.Tenant, t.ID)
	if err != nil {
		r.writeError(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, response{Success: true, Data: def})
}

func (r *Runner) handleStart(w http.ResponseWriter, req *http.Request) {
	r.handleLifecycle(w, req, r.registry.Start)
}

func (r *Runner) handleStop(w http.ResponseWriter, req *http.Request) {
	r.handleLifecycle(w, req, r.registry.Stop)
}

func (r *Runner) handleDelete(w http.ResponseWriter, req *http.Request) {
	r.handleLifecycle(w, req, r.registry.Delete)
}

func (r *Runner) handleLifecycle(
	w http.ResponseWriter,
	req *http.Request,
	op func(ctx context.Context, tenantID, routeID string) error,
) {
	if req.Method != http.MethodPost {
		r.writeJSON(w, http.StatusMethodNotAllowed, response{Success: false, Error: "POST required"})
		return
	}
	t, err := r.readTarget(req)
	if err != nil {
		r.writeJSON(w, http.StatusBadRequest, response{Success: false, Error: err.Error()})
		return
	}
	if err := op(req.Context(), t.Tenant, t.ID); err != nil {
		r.writeError(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, response{Success: true})
}

// invokeRequest is the payload of POST /api/routes/invoke.
type invokeRequest struct {
	Tenant  string         `json:"tenant"`
	ID      string         `json:"id"`
	Body    any            `json:"body"`
	Headers map[string]any `json:"headers"`
}

func (r *Runner) handleInvoke(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.writeJSON(w, http.StatusMethodNotAllowed, response{Success: false, Error: "POST required"})
		return
	}
	var in invokeRequest
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		r.writeError(w, err)
		return
	}
	if err := json.Unmarshal(data, &in); err != nil {
		r.writeJSON(w, http.StatusBadRequest, response{Success: false, Error: err.Error()})
		return
	}
	if in.Tenant == "" {
		in.Tenant = r.tenant
	}
	if in.ID == "" {
		r.writeJSON(w, http.StatusBadRequest, response{Success: false, Error: "missing route id"})
		return
	}

	route, ok := r.registry.Active(in.Tenant, in.ID)
	if !ok {
		r.writeError(w, errz.ErrRouteNotDeployed)
		return
	}

	ex := exchange.New()
	ex.SetBody(in.Body)
	for k, v := range in.Headers {
		ex.Headers[k] = v
	}

	result, err := r.invoker.Invoke(req.Context(), route, ex)
	if err != nil {
		r.writeJSON(w, http.StatusOK, response{Success: false, Error: err.Error()})
		return
	}
	r.writeJSON(w, http.StatusOK, response{Success: true, Output: result.Body})
}

// handlePublishEvent ingests activity events from the surrounding workflow
// engine onto the fan-out bus.
func (r *Runner) handlePublishEvent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.writeJSON(w, http.StatusMethodNotAllowed, response{Success: false, Error: "POST required"})
		return
	}
	var event events.Event
	if err := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(&event); err != nil {
		r.writeJSON(w, http.StatusBadRequest, response{Success: false, Error: err.Error()})
		return
	}
	if event.Type == "" {
		event.Type = events.TypeCamundaTask
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.bus.Publish(&event)
	r.writeJSON(w, http.StatusAccepted, response{Success: true})
}
