package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/pomociclo/pomociclo/internal/app/settlement"
	"github.com/pomociclo/pomociclo/internal/domain"
)

// ─── Payloads ───────────────────────────────────────────────────────────────

type startSessionRequest struct {
	SubjectID string `json:"subject_id" validate:"omitempty,max=128"`
}

type endSessionRequest struct {
	SessionID string `json:"session_id" validate:"required,max=128"`
	Duration  *int   `json:"duration" validate:"required,gte=0"`
	Skipped   bool   `json:"skipped"`
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, err := s.settler.StartSession(r.Context(), userFrom(r), req.SubjectID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.settler.EndSession(r.Context(), settlement.Request{
		UserID:           userFrom(r),
		SessionID:        req.SessionID,
		ReportedDuration: *req.Duration,
		Skipped:          req.Skipped,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error": map[string]interface{}{
					"message": err.Error(),
					"type":    errorType(http.StatusConflict),
				},
				"result": res,
			})
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProgression(w http.ResponseWriter, r *http.Request) {
	st, err := s.settler.Progression(r.Context(), userFrom(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleQuests(w http.ResponseWriter, r *http.Request) {
	doc, err := s.settler.Quests(r.Context(), userFrom(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// decode reads and validates a JSON body. It writes the 400 itself and
// returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}

	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": map[string]interface{}{
					"message": "validation failed",
					"type":    errorType(http.StatusBadRequest),
					"fields":  fieldErrors(verrs),
				},
			})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		out[fe.Field()] = msg
	}
	return out
}

// writeDomainError maps domain sentinels to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadySettled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStorageConflict), errors.Is(err, domain.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "path", r.URL.Path, "user_id", userFrom(r), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
