package api

import "net/http"

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := accountID(r)
	balance, err := s.svc.Ledger.Balance(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.svc.Ledger.History(ctx, id, queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance, "transactions": entries})
}

func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Promos.Redeem(r.Context(), accountID(r), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListActivePlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.svc.Plans.List(r.Context(), true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID int64 `json:"planId"`
	}
	if err := decodeJSON(w, r, &req, defaultBodyLimit); err != nil {
		s.writeError(w, r, err)
		return
	}
	checkout, err := s.svc.Payments.CreateCheckout(r.Context(), accountID(r), req.PlanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

func (s *Server) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	payments, err := s.svc.Payments.History(r.Context(), accountID(r), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// handleYooKassaWebhook is the public endpoint for payment notifications. Non-2xx
// answers make YooKassa redeliver.
func (s *Server) handleYooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	duplicate, err := s.svc.Payments.HandleYooKassaWebhook(r.Context(), body)
	if err != nil {
		s.log.Error("yookassa webhook", "err", err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "duplicate": duplicate})
}
