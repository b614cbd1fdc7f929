package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/solar-controller-core/internal/access"
	"github.com/nerrad567/solar-controller-core/internal/audit"
	"github.com/nerrad567/solar-controller-core/internal/coordinator"
)

// handleListDevices returns the caller's devices, most recently linked
// first, each with its live status.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.ListDevicesForUser(detached(r), identity(r))
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleClaimDevice links the caller to a device using its current
// confirmation code.
//
// Body: {"deviceId": "...", "confirmationCode": "...", "name": "..."}
func (s *Server) handleClaimDevice(w http.ResponseWriter, r *http.Request) {
	var req coordinator.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	view, err := s.coord.ClaimDevice(detached(r), identity(r), req)
	if err != nil {
		s.logClientError("claiming device", req.DeviceID, err)
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// handleControlDevice sends a command to the device.
//
// Body: {"command": "relay", "state": true}
func (s *Server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	var cmd coordinator.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	status, err := s.coord.ControlDevice(detached(r), identity(r), deviceID, cmd)
	if err != nil {
		s.logClientError("controlling device", deviceID, err)
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

// handleShareDevice gives another registered user access to a device the
// caller owns.
//
// Body: {"email": "..."}
func (s *Server) handleShareDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" {
		writeBadRequest(w, "email is required")
		return
	}

	target, err := s.coord.ShareDevice(detached(r), identity(r), deviceID, req.Email)
	if err != nil {
		s.logClientError("sharing device", deviceID, err)
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": target})
}

// handleRemoveDevice drops the caller's access to a device, deleting the
// device when nobody else is linked to it.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	id := identity(r)
	deleted, err := s.coord.RemoveDeviceAccess(detached(r), id, deviceID)
	if err != nil {
		s.logClientError("removing device access", deviceID, err)
		writeCoordinatorError(w, err)
		return
	}
	s.hub.RevokeDevice(id.UserID, deviceID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deviceDeleted": deleted})
}

// handleDeviceHistory returns persisted telemetry for a device.
//
// Query parameters:
//   - since: RFC 3339 lower bound (inclusive)
//   - until: RFC 3339 upper bound (inclusive)
//   - limit: maximum samples, default 100, capped at 1000
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")

	q, err := parseSampleQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	samples, err := s.coord.DeviceHistory(detached(r), identity(r), deviceID, q)
	if err != nil {
		s.logClientError("reading device history", deviceID, err)
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples, "count": len(samples)})
}

// handleDeviceActivity returns the audit trail of a device.
//
// Query parameters:
//   - action: only entries with this action (claim, share, remove, command, command_failed)
//   - limit: page size, default 50, capped at 200
//   - offset: pagination offset
func (s *Server) handleDeviceActivity(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		DeviceID: chi.URLParam(r, "deviceId"),
		Action:   r.URL.Query().Get("action"),
	}
	var err error
	if filter.Limit, err = intParam(r, "limit", 1); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = intParam(r, "offset", 0); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.coord.DeviceActivity(detached(r), identity(r), filter)
	if err != nil {
		s.logClientError("reading device activity", filter.DeviceID, err)
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional integer query parameter that must be at
// least lowest. Absent parameters yield 0.
func intParam(r *http.Request, name string, lowest int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lowest {
		return 0, queryError(fmt.Sprintf("%s must be an integer of at least %d", name, lowest))
	}
	return n, nil
}

type queryError string

func (e queryError) Error() string { return string(e) }

func parseSampleQuery(r *http.Request) (access.SampleQuery, error) {
	var q access.SampleQuery
	values := r.URL.Query()

	if v := values.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, queryError("since must be an RFC 3339 timestamp")
		}
		q.Since = t
	}
	if v := values.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, queryError("until must be an RFC 3339 timestamp")
		}
		q.Until = t
	}
	limit, err := intParam(r, "limit", 1)
	if err != nil {
		return q, err
	}
	q.Limit = limit
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return q, queryError("until must not be before since")
	}
	return q, nil
}

// logClientError logs 5xx-class coordinator failures at error level and
// everything the caller caused at debug.
func (s *Server) logClientError(op, deviceID string, err error) {
	if errorStatus(err) >= http.StatusInternalServerError {
		s.logger.Error(op, "device_id", deviceID, "error", err)
		return
	}
	s.logger.Debug(op, "device_id", deviceID, "error", err)
}
