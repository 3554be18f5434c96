package api

import (
	"encoding/json"
	"net/http"

	"github.com/digkill/genledger/internal/service"
)

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.svc.Workflows.ListWorkflows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flows)
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var req service.RunRequest
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Workflows.Submit(r.Context(), accountID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.Workflows.ListRuns(r.Context(), accountID(r), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCustomRequest(w http.ResponseWriter, r *http.Request) {
	var req service.CustomRequest
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.svc.Workflows.SubmitCustomRequest(r.Context(), accountID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleN8NCallback accepts the engine's verdict for a run. The shared secret comes from
// the X-N8N-Secret header or the body; with no secret configured every call is rejected.
func (s *Server) handleN8NCallback(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var cb service.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	secret := r.Header.Get("X-N8N-Secret")
	if secret == "" {
		secret = cb.Secret
	}
	if s.opts.N8NSecret == "" || !secureEqual(secret, s.opts.N8NSecret) {
		writeErrorMessage(w, http.StatusUnauthorized, "invalid secret")
		return
	}

	duplicate, err := s.svc.Workflows.OnExternalCallback(r.Context(), cb)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "duplicate": duplicate})
}
