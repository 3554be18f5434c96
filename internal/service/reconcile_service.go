package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/provider"
)

type ReconcileConfig struct {
	PollBatchSize      int
	RefundLateFailures bool
}

// ReconcileService resolves in-flight units from provider callbacks (push) and task
// status queries (pull). Both paths go through the same conditional terminal write, so
// replays and races between them change a unit at most once.
type ReconcileService struct {
	cfg      ReconcileConfig
	log      *slog.Logger
	units    GenerationStore
	ledger   *LedgerService
	provider Provider
	registry *provider.Registry
	throttle PollThrottle
}

type CallbackResult struct {
	UnitID    int64                   `json:"unitId"`
	Status    models.GenerationStatus `json:"status"`
	Changed   bool                    `json:"changed"`
	Ambiguous bool                    `json:"ambiguous,omitempty"`
}

type PollReport struct {
	Checked   int  `json:"checked"`
	Updated   int  `json:"updated"`
	Throttled bool `json:"throttled,omitempty"`
}

// NewReconcileService builds the reconciler. throttle may be nil.
func NewReconcileService(cfg ReconcileConfig, log *slog.Logger, units GenerationStore, ledger *LedgerService, p Provider,
	registry *provider.Registry, throttle PollThrottle) *ReconcileService {
	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = 10
	}
	return &ReconcileService{
		cfg:      cfg,
		log:      log,
		units:    units,
		ledger:   ledger,
		provider: p,
		registry: registry,
		throttle: throttle,
	}
}

// OnCallback applies a provider push for unitID. A terminal unit is left untouched and
// reported as success, except that a refund owed for a late failure is retried so a
// redelivered callback can finish what an earlier one could not.
func (s *ReconcileService) OnCallback(ctx context.Context, unitID int64, raw []byte) (*CallbackResult, error) {
	unit, err := s.units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, fmt.Errorf("%w: generation %d", ErrNotFound, unitID)
	}
	if unit.Status.Terminal() {
		if s.owesLateRefund(unit) {
			if err := s.refundLateFailure(ctx, unit); err != nil {
				return nil, err
			}
		}
		return &CallbackResult{UnitID: unit.ID, Status: unit.Status}, nil
	}
	return s.apply(ctx, unit, raw)
}

// PollStuck asks the provider about up to PollBatchSize in-flight units of the account.
// Units without a task id never reached the provider and are skipped. Per-unit errors
// are logged and do not stop the sweep.
func (s *ReconcileService) PollStuck(ctx context.Context, accountID int64) (*PollReport, error) {
	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, accountID)
		if err != nil {
			s.log.Warn("poll throttle unavailable", "account_id", accountID, "err", err)
		} else if !allowed {
			return &PollReport{Throttled: true}, nil
		}
	}

	units, err := s.units.ListInFlight(ctx, accountID, s.cfg.PollBatchSize)
	if err != nil {
		return nil, err
	}
	report := &PollReport{Checked: len(units)}
	if len(units) == 0 {
		return report, nil
	}
	if !s.provider.Configured() {
		return nil, fmt.Errorf("%w: provider credentials are not configured", ErrProviderUnavailable)
	}

	for i := range units {
		unit := &units[i]
		if unit.ExternalTaskID == "" {
			continue
		}
		raw, err := s.provider.TaskStatus(ctx, unit.ExternalTaskID)
		if err != nil {
			s.log.Warn("poll task status failed", "unit_id", unit.ID, "task_id", unit.ExternalTaskID, "err", err)
			continue
		}
		res, err := s.apply(ctx, unit, raw)
		if err != nil {
			s.log.Warn("poll apply failed", "unit_id", unit.ID, "err", err)
			continue
		}
		if res.Changed {
			report.Updated++
		}
	}
	return report, nil
}

func (s *ReconcileService) apply(ctx context.Context, unit *models.Generation, raw []byte) (*CallbackResult, error) {
	var out provider.Outcome
	if capability, ok := s.registry.Get(unit.ProviderID); ok {
		out = capability.Extract(raw)
	} else {
		out = provider.Chain(provider.KIE, provider.Generic).Extract(raw)
	}
	stored := storableJSON(raw)

	var res models.Resolution
	switch out.Kind {
	case provider.Completed:
		res = models.Resolution{Status: models.GenerationCompleted, ResultURL: out.URL, ResultData: stored}
	case provider.Failed:
		res = models.Resolution{Status: models.GenerationFailed, Error: out.Message, ResultData: stored}
	default:
		if err := s.units.SaveRawResult(ctx, unit.ID, stored); err != nil {
			return nil, err
		}
		s.log.Warn("unresolved provider payload", "unit_id", unit.ID, "err", ErrCallbackAmbiguous, "payload", truncate(raw, 512))
		return &CallbackResult{UnitID: unit.ID, Status: unit.Status, Ambiguous: true}, nil
	}

	won, err := s.units.Resolve(ctx, unit.ID, res)
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.units.Get(ctx, unit.ID)
		if err != nil || current == nil {
			return &CallbackResult{UnitID: unit.ID, Status: unit.Status}, err
		}
		return &CallbackResult{UnitID: unit.ID, Status: current.Status}, nil
	}

	s.log.Info("generation resolved", "unit_id", unit.ID, "status", res.Status, "url", res.ResultURL)
	if res.Status == models.GenerationFailed && s.cfg.RefundLateFailures {
		if err := s.refundLateFailure(ctx, unit); err != nil {
			return nil, err
		}
	}
	return &CallbackResult{UnitID: unit.ID, Status: res.Status, Changed: true}, nil
}

// owesLateRefund reports whether a terminal unit failed after it reached the provider.
// Units that failed at dispatch never got a task id and were refunded with their batch.
func (s *ReconcileService) owesLateRefund(unit *models.Generation) bool {
	return s.cfg.RefundLateFailures && unit.Status == models.GenerationFailed && unit.ExternalTaskID != ""
}

func (s *ReconcileService) refundLateFailure(ctx context.Context, unit *models.Generation) error {
	if unit.UnitCost <= 0 {
		return nil
	}
	unitID := unit.ID
	err := s.ledger.RefundOnce(context.WithoutCancel(ctx), fmt.Sprintf("refund:generation:%d", unit.ID), &models.LedgerEntry{
		AccountID:      unit.AccountID,
		Amount:         unit.UnitCost,
		Reason:         fmt.Sprintf("Refund: generation #%d failed after dispatch", unit.ID),
		RelatedBatchID: unit.BatchID,
		RelatedUnitID:  &unitID,
	})
	if err != nil {
		return fmt.Errorf("refund generation %d: %w", unit.ID, err)
	}
	return nil
}

// storableJSON keeps valid JSON as is and wraps anything else as a JSON string.
func storableJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	b, _ := json.Marshal(string(raw))
	return b
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "…"
}
