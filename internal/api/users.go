package api

import "net/http"

// handleListUsers returns every other registered user, for picking who to
// share a device with.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.coord.ListUsers(detached(r), identity(r))
	if err != nil {
		s.logger.Error("listing users", "error", err)
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}
