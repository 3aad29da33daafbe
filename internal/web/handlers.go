package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/happychair/yawgo/internal/logic/motion"
	"github.com/happychair/yawgo/internal/logic/motor"
)

// Motor is the actuator surface the handlers drive. Implemented by
// motion.Controller.
type Motor interface {
	Start() error
	Stop() error
	SetSpeed(dir motor.Direction, speed float64, duration time.Duration, divisions int) error
	SetClutchLock(locked bool)
	EmergencyDisengage()
	GetStats() motor.Stats
}

// SpeedRequest is the JSON body for POST /motor/speed.
type SpeedRequest struct {
	Direction string  `json:"direction"`
	Speed     float64 `json:"speed"`
	DurationS float64 `json:"duration_s"`
	Divisions int     `json:"divisions"`
}

// LockRequest is the JSON body for POST /motor/clutch/lock.
type LockRequest struct {
	Locked bool `json:"locked"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Motor       Motor
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, m Motor, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Motor:       m,
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStart handles POST /motor/start.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.Motor.Start(); err != nil {
		h.Broadcaster.Broadcast("error", "Motor start failed: "+err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// HandleStop handles POST /motor/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.Motor.Stop(); err != nil {
		// Teardown completed with a forced termination; report but don't fail.
		h.Broadcaster.Broadcast("warn", "Motor stop: "+err.Error())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleSpeed handles POST /motor/speed.
func (h *Handlers) HandleSpeed(w http.ResponseWriter, r *http.Request) {
	var req SpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	dir, err := motor.ParseDirection(req.Direction)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Divisions == 0 {
		req.Divisions = 1
	}

	duration := time.Duration(req.DurationS * float64(time.Second))
	if err := h.Motor.SetSpeed(dir, req.Speed, duration, req.Divisions); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, motion.ErrInvalidCommand) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleClutchLock handles POST /motor/clutch/lock.
func (h *Handlers) HandleClutchLock(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	h.Motor.SetClutchLock(req.Locked)
	writeJSON(w, http.StatusOK, map[string]bool{"locked": req.Locked})
}

// HandleEmergency handles POST /motor/emergency.
func (h *Handlers) HandleEmergency(w http.ResponseWriter, r *http.Request) {
	h.Motor.EmergencyDisengage()
	h.Broadcaster.Broadcast("warn", "Emergency disengage activated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "disengaged"})
}

// HandleStats handles GET /motor/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Motor.GetStats())
}

// HandleStatusStream handles GET /status/stream for SSE. Clients receive
// both log lines and periodic stats snapshots.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
