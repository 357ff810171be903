package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/plugin-chrdev/pkg/chrdev"
	"github.com/srediag/plugin-chrdev/pkg/globalmem"
)

// Response headers carrying transfer counts.
const (
	HeaderTransferred = "X-Globalmem-Transferred"
	HeaderRequested   = "X-Globalmem-Requested"
)

// DeviceInfo describes a registered node in GET /devices.
type DeviceInfo struct {
	Name  string `json:"name"`
	Minor uint32 `json:"minor"`
}

// WriteResult is the body of a successful PUT /dev/{node}.
type WriteResult struct {
	Node        string `json:"node"`
	Offset      uint64 `json:"offset"`
	Requested   int    `json:"requested"`
	Transferred int    `json:"transferred"`
}

type handler struct {
	d      *Dispatcher
	module *chrdev.Module
	bodies bytebufferpool.Pool
}

// NewRouter builds the HTTP surface of module: device node reads and writes
// executed through d, the device listing, health probes and metrics.
func NewRouter(d *Dispatcher, module *chrdev.Module) http.Handler {
	h := &handler{d: d, module: module}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/devices", h.devices)
	r.Get("/dev/{node}", h.read)
	r.Put("/dev/{node}", h.write)

	health := module.HealthHandler()
	r.Handle("/live", health)
	r.Handle("/ready", health)
	r.Handle("/metrics", promhttp.HandlerFor(module.Gatherer(), promhttp.HandlerOpts{}))
	return r
}

func (h *handler) devices(w http.ResponseWriter, r *http.Request) {
	reg := h.module.Registration()
	if reg == nil {
		writeError(w, chrdev.ErrNotRunning)
		return
	}
	list := make([]DeviceInfo, 0)
	for _, dev := range reg.Devices() {
		list = append(list, DeviceInfo{Name: dev.Name(), Minor: dev.Minor()})
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) read(w http.ResponseWriter, r *http.Request) {
	offset, err := queryUint(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	requested, err := queryUint(r, "length", globalmem.Capacity)
	if err != nil {
		writeError(w, err)
		return
	}
	// No single read can return more than the device holds.
	length := min(requested, globalmem.Capacity)

	bb := h.bodies.Get()
	if uint64(cap(bb.B)) < length {
		bb.B = make([]byte, length)
	}
	bb.B = bb.B[:length]

	resp := h.d.Do(r.Context(), Request{
		Node:   chi.URLParam(r, "node"),
		Op:     OpRead,
		Offset: offset,
		Data:   bb.B,
	})
	if !abandoned(resp.Err) {
		defer h.bodies.Put(bb)
	}
	if resp.Err != nil {
		writeError(w, resp.Err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(resp.N))
	w.Header().Set(HeaderRequested, strconv.FormatUint(requested, 10))
	w.Header().Set(HeaderTransferred, strconv.Itoa(resp.N))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Data)
}

func (h *handler) write(w http.ResponseWriter, r *http.Request) {
	offset, err := queryUint(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	// Bytes past Capacity could never be stored, so they are counted but
	// not staged. The reported request length is the whole body.
	bb := h.bodies.Get()
	bb.Reset()
	staged, err := bb.ReadFrom(io.LimitReader(r.Body, globalmem.Capacity))
	if err != nil {
		h.bodies.Put(bb)
		writeError(w, badRequest(errors.Wrap(err, "read request body")))
		return
	}
	rest, err := io.Copy(io.Discard, r.Body)
	if err != nil {
		h.bodies.Put(bb)
		writeError(w, badRequest(errors.Wrap(err, "read request body")))
		return
	}
	node := chi.URLParam(r, "node")
	requested := int(staged + rest)

	resp := h.d.Do(r.Context(), Request{
		Node:   node,
		Op:     OpWrite,
		Offset: offset,
		Data:   bb.B,
	})
	if !abandoned(resp.Err) {
		defer h.bodies.Put(bb)
	}
	if resp.Err != nil {
		writeError(w, resp.Err)
		return
	}
	w.Header().Set(HeaderRequested, strconv.Itoa(requested))
	w.Header().Set(HeaderTransferred, strconv.Itoa(resp.N))
	writeJSON(w, http.StatusOK, WriteResult{
		Node:        node,
		Offset:      offset,
		Requested:   requested,
		Transferred: resp.N,
	})
}

// abandoned reports whether a worker may still hold the request buffer.
func abandoned(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrStopped)
}

type queryError struct {
	err error
}

func (e *queryError) Error() string { return e.err.Error() }
func (e *queryError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &queryError{err: err}
}

func queryUint(r *http.Request, key string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest(errors.Wrapf(err, "query parameter %q", key))
	}
	return v, nil
}

// StatusCode maps a transfer error to its HTTP status.
func StatusCode(err error) int {
	var qe *queryError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &qe):
		return http.StatusBadRequest
	case errors.Is(err, globalmem.ErrInvalidOffset):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, globalmem.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, globalmem.ErrAllocation),
		errors.Is(err, chrdev.ErrUnregistered),
		errors.Is(err, chrdev.ErrNotRunning),
		errors.Is(err, ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, chrdev.ErrNoSuchDevice):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownOp):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusCode(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
