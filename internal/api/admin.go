package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/service"
)

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.svc.Plans.List(r.Context(), false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePlanInput
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	plan, err := s.svc.Plans.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req service.UpdatePlanInput
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	plan, err := s.svc.Plans.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	archived, err := s.svc.Plans.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if archived {
		writeJSON(w, http.StatusOK, map[string]bool{"archived": true})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.svc.Promos.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, promos)
}

func (s *Server) handleCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req service.PromoInput
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	promo, err := s.svc.Promos.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req service.PromoInput
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	promo, err := s.svc.Promos.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, promo)
}

func (s *Server) handleDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Promos.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAccountInput
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.svc.Accounts.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.svc.Accounts.IssueToken(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.svc.Accounts.Grant(r.Context(), id, req.Amount, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type workflowRequest struct {
	Slug          string   `json:"slug"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	CreditCost    int64    `json:"creditCost"`
	IsActive      *bool    `json:"isActive"`
	WebhookURL    string   `json:"webhookUrl"`
	AllowedModels []string `json:"allowedModels"`
}

func (s *Server) handleUpsertWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	wf, err := s.svc.Workflows.UpsertWorkflow(r.Context(), models.Workflow{
		Slug:          req.Slug,
		Name:          req.Name,
		Description:   req.Description,
		CreditCost:    req.CreditCost,
		IsActive:      active,
		WebhookURL:    req.WebhookURL,
		AllowedModels: req.AllowedModels,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleProviderCredits(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Credits.Check(r.Context())
	if err != nil {
		// The reading itself is still useful when only the alert could not be sent.
		s.log.Warn("provider credit alert", "err", err)
	}
	if status == nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
