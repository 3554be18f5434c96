package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/genledger/internal/service"
)

type providerView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	caps := s.svc.Generations.Providers()
	out := make([]providerView, 0, len(caps))
	for _, c := range caps {
		out = append(out, providerView{ID: c.ID, Name: c.Name, Kind: string(c.Kind)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := decodeJSON(w, r, &req, generateBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Generations.Submit(r.Context(), accountID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGenerationHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := queryInt(r, "limit"), queryInt(r, "offset")
	units, err := s.svc.Generations.History(r.Context(), accountID(r), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generations": units})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	units, err := s.svc.Generations.Batch(r.Context(), accountID(r), batchID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batchId": batchID, "units": units})
}

func (s *Server) handleDeleteGenerations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.Generations.Delete(r.Context(), accountID(r), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Reconciler.PollStuck(r.Context(), accountID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleGenerationCallback receives provider pushes. It answers 200 whenever the payload
// was handled, left ambiguous or hit an already terminal unit, so the provider stops
// retrying; only storage failures return 5xx.
func (s *Server) handleGenerationCallback(w http.ResponseWriter, r *http.Request) {
	unitID, err := parseID(chi.URLParam(r, "unitID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.svc.Callbacks.Verify(unitID, r.URL.Query().Get("token")) {
		writeErrorMessage(w, http.StatusUnauthorized, "invalid callback token")
		return
	}

	var raw []byte
	if r.Method == http.MethodGet {
		raw, err = queryPayload(r)
	} else {
		raw, err = readBody(w, r)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Reconciler.OnCallback(r.Context(), unitID, raw)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			s.writeError(w, r, err)
			return
		}
		s.log.Error("generation callback", "unit_id", unitID, "err", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// queryPayload turns GET callback parameters into a JSON object for the extractors.
func queryPayload(r *http.Request) ([]byte, error) {
	q := r.URL.Query()
	q.Del("token")
	obj := make(map[string]string, len(q))
	for k := range q {
		obj[k] = q.Get(k)
	}
	return json.Marshal(obj)
}
