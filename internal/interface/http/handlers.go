package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"uptime": s.Uptime().String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSES
// ══════════════════════════════════════════════════════════════════════════════

// handleListCourses handles GET /api/cursos
func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, newCourseResponses(courses), &ResponseMeta{TotalCount: len(courses)})
}

// handleGetCourse handles GET /api/cursos/{id}
func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, err := course.ParseID(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	c, err := s.deps.Catalog.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newCourseResponse(c))
}

// handleCreateCourse handles POST /api/cursos
func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req CourseRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	c, err := s.deps.Catalog.Create(r.Context(), req.toInput())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newCourseResponse(c))
}

// handleUpdateCourse handles PUT /api/cursos/{id}
func (s *Server) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, err := course.ParseID(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var req CourseRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	c, err := s.deps.Catalog.Update(r.Context(), id, req.toInput())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newCourseResponse(c))
}

// handleDeleteCourse handles DELETE /api/cursos/{id}
func (s *Server) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, err := course.ParseID(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Catalog.Delete(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMBERSHIPS
// ══════════════════════════════════════════════════════════════════════════════

// handleAddMembership handles POST /api/cursos/{id}
func (s *Server) handleAddMembership(w http.ResponseWriter, r *http.Request) {
	courseID, err := course.ParseID(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var req MembershipRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	userID := user.ID(req.UserID)
	if !userID.IsValid() {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "User id is required")
		return
	}

	u, err := s.deps.Memberships.AddMembership(r.Context(), courseID, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newUserResponse(u))
}

// handleRemoveMembership handles DELETE /api/cursos/{cursoId}/usuarios/{usuarioId}
func (s *Server) handleRemoveMembership(w http.ResponseWriter, r *http.Request) {
	courseID, err := course.ParseID(r.PathValue("cursoId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	userID, err := user.ParseID(r.PathValue("usuarioId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if err := s.deps.Memberships.RemoveMembership(r.Context(), courseID, userID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMembershipUsers handles GET /api/cursos/{cursoId}/usuarios
func (s *Server) handleListMembershipUsers(w http.ResponseWriter, r *http.Request) {
	courseID, err := course.ParseID(r.PathValue("cursoId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	users, err := s.deps.Memberships.ListMembershipUsers(r.Context(), courseID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, newUserResponses(users), &ResponseMeta{TotalCount: len(users)})
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateUser handles POST /api/cursos/usuarios
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.Users == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Users service is not configured")
		return
	}

	var req UserRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	nu, err := req.toNewUser()
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	u, err := s.deps.Users.Create(r.Context(), nu)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newUserResponse(u))
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody reads a JSON body into dst, answering 400 itself on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "Request body is empty")
	case errors.As(err, &maxErr):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "Request body is too large")
	default:
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "Request body is not valid JSON", err.Error())
	}
	return false
}
