package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/n8n"
	"github.com/digkill/genledger/internal/provider"
)

const maxRunsLimit = 100

type WorkflowConfig struct {
	CallbackURL        string
	Secret             string
	RefundLateFailures bool
}

// WorkflowService charges for and tracks runs executed by the external workflow engine.
type WorkflowService struct {
	cfg      WorkflowConfig
	log      *slog.Logger
	store    WorkflowStore
	ledger   *LedgerService
	engine   WorkflowEngine
	registry *provider.Registry
	notifier Notifier
	gate     *EventGate
}

type RunRequest struct {
	WorkflowSlug string          `json:"workflowSlug"`
	Model        string          `json:"model"`
	Inputs       json.RawMessage `json:"inputs"`
}

type RunResult struct {
	RunID      int64            `json:"runId"`
	Status     models.RunStatus `json:"status"`
	CreditCost int64            `json:"creditCost"`
	Error      string           `json:"error,omitempty"`
}

// Callback is what the engine posts back when a run finishes.
type Callback struct {
	RunID  int64            `json:"runId"`
	Status models.RunStatus `json:"status"`
	Output json.RawMessage  `json:"output,omitempty"`
	Error  string           `json:"error,omitempty"`
	Secret string           `json:"secret,omitempty"`
}

type CustomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UseCase     string `json:"useCase,omitempty"`
}

func NewWorkflowService(cfg WorkflowConfig, log *slog.Logger, store WorkflowStore, ledger *LedgerService, engine WorkflowEngine,
	registry *provider.Registry, notifier Notifier, gate *EventGate) *WorkflowService {
	return &WorkflowService{
		cfg:      cfg,
		log:      log,
		store:    store,
		ledger:   ledger,
		engine:   engine,
		registry: registry,
		notifier: notifier,
		gate:     gate,
	}
}

func (s *WorkflowService) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	return s.store.ListActive(ctx)
}

func (s *WorkflowService) ListRuns(ctx context.Context, accountID int64, limit int) ([]models.WorkflowRun, error) {
	if limit <= 0 || limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	return s.store.ListRuns(ctx, accountID, limit)
}

// UpsertWorkflow stores a workflow definition. Allowed models must be known providers.
func (s *WorkflowService) UpsertWorkflow(ctx context.Context, w models.Workflow) (*models.Workflow, error) {
	w.Slug = strings.TrimSpace(w.Slug)
	w.Name = strings.TrimSpace(w.Name)
	if w.Slug == "" || w.Name == "" {
		return nil, invalidf("slug and name are required")
	}
	if w.CreditCost < 0 {
		return nil, invalidf("credit cost must not be negative")
	}
	for _, m := range w.AllowedModels {
		if _, ok := s.registry.Get(m); !ok {
			return nil, invalidf("unknown model %q", m)
		}
	}
	return s.store.Upsert(ctx, &w)
}

// Submit records a queued run, charges the workflow cost against it and triggers the
// engine. A run whose charge is declined is removed again. A trigger failure fails the
// run and refunds it.
func (s *WorkflowService) Submit(ctx context.Context, accountID int64, req RunRequest) (*RunResult, error) {
	wf, err := s.store.GetBySlug(ctx, strings.TrimSpace(req.WorkflowSlug))
	if err != nil {
		return nil, err
	}
	if wf == nil || !wf.IsActive {
		return nil, fmt.Errorf("%w: workflow %q", ErrNotFound, req.WorkflowSlug)
	}
	if req.Model != "" {
		if _, ok := s.registry.Get(req.Model); !ok {
			return nil, invalidf("unknown model %q", req.Model)
		}
		if len(wf.AllowedModels) > 0 && !slices.Contains(wf.AllowedModels, req.Model) {
			return nil, fmt.Errorf("%w: model %q is not allowed for workflow %q", ErrForbidden, req.Model, wf.Slug)
		}
	}
	if len(req.Inputs) > 0 && !json.Valid(req.Inputs) {
		return nil, invalidf("inputs must be valid JSON")
	}

	run := &models.WorkflowRun{
		AccountID:  accountID,
		WorkflowID: wf.ID,
		Model:      req.Model,
		Input:      req.Inputs,
		CreditCost: wf.CreditCost,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create workflow run: %w", err)
	}

	if wf.CreditCost > 0 {
		runID := run.ID
		err := s.ledger.Spend(ctx, &models.LedgerEntry{
			AccountID:    accountID,
			Amount:       wf.CreditCost,
			Reason:       fmt.Sprintf("Workflow: %s", wf.Slug),
			RelatedRunID: &runID,
		})
		if err != nil {
			if derr := s.store.DeleteRun(context.WithoutCancel(ctx), run.ID); derr != nil {
				s.log.Error("delete unpaid run", "run_id", run.ID, "err", derr)
			}
			return nil, err
		}
	}

	if wf.WebhookURL == "" {
		if err := s.store.MarkRunning(ctx, run.ID); err != nil {
			return nil, err
		}
		return &RunResult{RunID: run.ID, Status: models.RunRunning, CreditCost: wf.CreditCost}, nil
	}

	err = s.engine.Trigger(ctx, wf.WebhookURL, n8n.Trigger{
		RunID:        run.ID,
		AccountID:    accountID,
		WorkflowSlug: wf.Slug,
		Model:        req.Model,
		Inputs:       req.Inputs,
		Secret:       s.cfg.Secret,
		CallbackURL:  s.cfg.CallbackURL,
	})
	if err != nil {
		s.log.Warn("workflow trigger failed", "run_id", run.ID, "workflow", wf.Slug, "err", err)
		msg := fmt.Errorf("%w: %v", ErrDispatchFailed, err).Error()
		wctx := context.WithoutCancel(ctx)
		won, rerr := s.store.ResolveRun(wctx, run.ID, models.RunFailed, nil, msg)
		if rerr != nil {
			s.log.Error("mark run failed", "run_id", run.ID, "err", rerr)
		}
		if won || rerr != nil {
			if err := s.refundRun(wctx, run); err != nil {
				return nil, err
			}
		}
		return &RunResult{RunID: run.ID, Status: models.RunFailed, Error: msg}, nil
	}

	if err := s.store.MarkRunning(context.WithoutCancel(ctx), run.ID); err != nil {
		s.log.Error("mark run running", "run_id", run.ID, "err", err)
	}
	s.log.Info("workflow run started", "run_id", run.ID, "workflow", wf.Slug, "account_id", accountID)
	return &RunResult{RunID: run.ID, Status: models.RunRunning, CreditCost: wf.CreditCost}, nil
}

// OnExternalCallback applies the engine's verdict. Replays and callbacks for runs that
// are already terminal succeed with duplicate=true; for a failed run they first retry
// any refund that is still owed. A refund error leaves the event unmarked so the engine
// can redeliver it.
func (s *WorkflowService) OnExternalCallback(ctx context.Context, cb Callback) (duplicate bool, err error) {
	if cb.Status != models.RunSucceeded && cb.Status != models.RunFailed {
		return false, invalidf("status must be succeeded or failed")
	}
	if len(cb.Output) > 0 && !json.Valid(cb.Output) {
		cb.Output = storableJSON(cb.Output)
	}
	run, err := s.store.GetRun(ctx, cb.RunID)
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, fmt.Errorf("%w: workflow run %d", ErrNotFound, cb.RunID)
	}
	if run.Status.Terminal() {
		if s.owesRefund(run) {
			if err := s.refundRun(ctx, run); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	return s.gate.Run(ctx, fmt.Sprintf("n8n:run:%d", run.ID), func(ctx context.Context) error {
		won, err := s.store.ResolveRun(ctx, run.ID, cb.Status, cb.Output, cb.Error)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		s.log.Info("workflow run resolved", "run_id", run.ID, "status", cb.Status)
		if cb.Status == models.RunFailed && s.cfg.RefundLateFailures {
			return s.refundRun(ctx, run)
		}
		return nil
	})
}

// owesRefund reports whether a terminal run is entitled to its refund: trigger failures
// always are, engine-reported failures only under the late-failure policy.
func (s *WorkflowService) owesRefund(run *models.WorkflowRun) bool {
	if run.Status != models.RunFailed || run.CreditCost <= 0 {
		return false
	}
	return s.cfg.RefundLateFailures || strings.HasPrefix(run.Error, ErrDispatchFailed.Error())
}

func (s *WorkflowService) refundRun(ctx context.Context, run *models.WorkflowRun) error {
	if run.CreditCost <= 0 {
		return nil
	}
	runID := run.ID
	err := s.ledger.RefundOnce(context.WithoutCancel(ctx), fmt.Sprintf("refund:workflow-run:%d", run.ID), &models.LedgerEntry{
		AccountID:    run.AccountID,
		Amount:       run.CreditCost,
		Reason:       fmt.Sprintf("Refund: workflow run #%d failed", run.ID),
		RelatedRunID: &runID,
	})
	if err != nil {
		return fmt.Errorf("refund workflow run %d: %w", run.ID, err)
	}
	return nil
}

// SubmitCustomRequest records a request for a bespoke workflow and pings the admin.
func (s *WorkflowService) SubmitCustomRequest(ctx context.Context, accountID int64, in CustomRequest) (*models.CustomWorkflowRequest, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" || in.Description == "" {
		return nil, invalidf("name and description are required")
	}
	req := &models.CustomWorkflowRequest{
		AccountID:   accountID,
		Name:        in.Name,
		Description: in.Description,
		UseCase:     strings.TrimSpace(in.UseCase),
	}
	if err := s.store.CreateCustomRequest(ctx, req); err != nil {
		return nil, err
	}
	if s.notifier != nil {
		text := fmt.Sprintf("New custom workflow request #%d from account %d\n%s\n\n%s", req.ID, accountID, req.Name, req.Description)
		if req.UseCase != "" {
			text += "\n\nUse case: " + req.UseCase
		}
		if err := s.notifier.Notify(ctx, text); err != nil {
			s.log.Warn("custom request notification failed", "request_id", req.ID, "err", err)
		}
	}
	return req, nil
}
