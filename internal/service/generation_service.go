package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/digkill/genledger/internal/kie"
	"github.com/digkill/genledger/internal/models"
	"github.com/digkill/genledger/internal/provider"
	"github.com/digkill/genledger/internal/storage"
)

const (
	MaxBatchSize      = 10
	MaxReferenceMedia = 10
	maxDeleteIDs      = 100
)

type GenerationConfig struct {
	DispatchTimeout time.Duration
	TTL             time.Duration
}

type GenerationService struct {
	cfg       GenerationConfig
	log       *slog.Logger
	ledger    *LedgerService
	units     GenerationStore
	provider  Provider
	registry  *provider.Registry
	callbacks CallbackAddresser
	uploader  MediaUploader
	now       func() time.Time
}

type SubmitRequest struct {
	ProviderID     string                  `json:"providerId"`
	Prompt         string                  `json:"prompt"`
	SystemPrompt   string                  `json:"systemPrompt,omitempty"`
	Params         models.GenerationParams `json:"params"`
	ReferenceMedia []string                `json:"referenceMedia,omitempty"`
	BatchSize      int                     `json:"batchSize"`
}

type UnitResult struct {
	ID     int64                   `json:"id"`
	Status models.GenerationStatus `json:"status"`
	TaskID string                  `json:"taskId,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

type BatchResult struct {
	BatchID   string       `json:"batchId"`
	UnitCost  int64        `json:"unitCost"`
	TotalCost int64        `json:"totalCost"`
	Units     []UnitResult `json:"units"`
}

// NewGenerationService wires the batch orchestrator. uploader may be nil, in which case
// inline data URIs are rejected.
func NewGenerationService(cfg GenerationConfig, log *slog.Logger, ledger *LedgerService, units GenerationStore, p Provider,
	registry *provider.Registry, callbacks CallbackAddresser, uploader MediaUploader) *GenerationService {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	return &GenerationService{
		cfg:       cfg,
		log:       log,
		ledger:    ledger,
		units:     units,
		provider:  p,
		registry:  registry,
		callbacks: callbacks,
		uploader:  uploader,
		now:       time.Now,
	}
}

func (s *GenerationService) Providers() []provider.Capability {
	return s.registry.List()
}

// Submit reserves credits for the whole batch, creates its units and dispatches them
// concurrently. Units whose dispatch fails are refunded in one entry keyed by the batch
// after all settle. Dispatch outlives a cancelled request so the outcome of every unit
// is recorded.
func (s *GenerationService) Submit(ctx context.Context, accountID int64, req SubmitRequest) (*BatchResult, error) {
	capability, params, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	if !s.provider.Configured() {
		return nil, fmt.Errorf("%w: %s credentials are not configured", ErrProviderUnavailable, capability.ID)
	}

	refs, err := s.prepareReferences(ctx, accountID, req.ReferenceMedia)
	if err != nil {
		return nil, err
	}

	n := req.BatchSize
	unitCost := capability.Cost(params)
	totalCost := unitCost * int64(n)
	batchID := uuid.NewString()

	reason := fmt.Sprintf("Generation: %s x%d", capability.ID, n)
	if detail := costDetail(capability, params); detail != "" {
		reason += " (" + detail + ")"
	}
	if _, err := s.ledger.Reserve(ctx, accountID, totalCost, reason, batchID); err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.cfg.TTL)
	units := make([]*models.Generation, n)
	for i := range units {
		units[i] = &models.Generation{
			BatchID:        batchID,
			AccountID:      accountID,
			ProviderID:     capability.ID,
			Prompt:         req.Prompt,
			SystemPrompt:   req.SystemPrompt,
			Params:         params,
			ReferenceMedia: refs,
			Status:         models.GenerationPending,
			UnitCost:       unitCost,
			ExpiresAt:      expiresAt,
		}
	}
	if err := s.units.CreateBatch(ctx, units); err != nil {
		if rerr := s.refundBatch(ctx, accountID, batchID, totalCost, fmt.Sprintf("Refund: batch %s could not be created", batchID)); rerr != nil {
			return nil, errors.Join(fmt.Errorf("create generation units: %w", err), rerr)
		}
		return nil, fmt.Errorf("create generation units: %w", err)
	}

	results, refundable := s.dispatch(ctx, capability, units)

	if refundable > 0 {
		reason := fmt.Sprintf("Refund: %d/%d failed (%s)", refundable, n, batchID)
		if err := s.refundBatch(ctx, accountID, batchID, unitCost*int64(refundable), reason); err != nil {
			return nil, err
		}
	}

	s.log.Info("batch submitted", "account_id", accountID, "batch_id", batchID, "provider", capability.ID,
		"size", n, "failed", refundable, "unit_cost", unitCost)

	return &BatchResult{
		BatchID:   batchID,
		UnitCost:  unitCost,
		TotalCost: unitCost * int64(n-refundable),
		Units:     results,
	}, nil
}

func (s *GenerationService) refundBatch(ctx context.Context, accountID int64, batchID string, amount int64, reason string) error {
	err := s.ledger.RefundOnce(context.WithoutCancel(ctx), "refund:batch:"+batchID, &models.LedgerEntry{
		AccountID:      accountID,
		Amount:         amount,
		Reason:         reason,
		RelatedBatchID: batchID,
	})
	if err != nil {
		return fmt.Errorf("refund batch %s: %w", batchID, err)
	}
	return nil
}

func (s *GenerationService) validate(req SubmitRequest) (provider.Capability, models.GenerationParams, error) {
	capability, ok := s.registry.Get(req.ProviderID)
	if !ok {
		return provider.Capability{}, models.GenerationParams{}, invalidf("unknown provider %q", req.ProviderID)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return provider.Capability{}, models.GenerationParams{}, invalidf("prompt is required")
	}
	if req.BatchSize < 1 || req.BatchSize > MaxBatchSize {
		return provider.Capability{}, models.GenerationParams{}, invalidf("batch size must be between 1 and %d", MaxBatchSize)
	}
	if len(req.ReferenceMedia) > MaxReferenceMedia {
		return provider.Capability{}, models.GenerationParams{}, invalidf("at most %d reference media are allowed", MaxReferenceMedia)
	}
	params := capability.Normalize(req.Params)
	if err := capability.Validate(params); err != nil {
		return provider.Capability{}, models.GenerationParams{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return capability, params, nil
}

// prepareReferences replaces inline data URIs with uploaded public URLs.
func (s *GenerationService) prepareReferences(ctx context.Context, accountID int64, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for i, ref := range refs {
		ref = strings.TrimSpace(ref)
		switch {
		case ref == "":
			return nil, invalidf("reference media %d is empty", i+1)
		case storage.IsDataURI(ref):
			if s.uploader == nil {
				return nil, invalidf("inline reference media is not supported, pass a URL")
			}
			url, err := s.uploader.UploadDataURI(ctx, accountID, ref)
			if errors.Is(err, storage.ErrInvalidDataURI) {
				return nil, fmt.Errorf("%w: reference media %d: %v", ErrInvalidRequest, i+1, err)
			}
			if err != nil {
				return nil, fmt.Errorf("upload reference media: %w", err)
			}
			out = append(out, url)
		case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
			out = append(out, ref)
		default:
			return nil, invalidf("reference media %d must be an http(s) URL or a data URI", i+1)
		}
	}
	return out, nil
}

// dispatch fans the units out and waits for all of them. It returns the per-unit
// results and how many units are owed a refund.
func (s *GenerationService) dispatch(ctx context.Context, capability provider.Capability, units []*models.Generation) ([]UnitResult, int) {
	results := make([]UnitResult, len(units))
	refundable := make([]bool, len(units))

	var wg conc.WaitGroup
	for i, unit := range units {
		wg.Go(func() {
			results[i], refundable[i] = s.dispatchOne(ctx, capability, unit)
		})
	}
	wg.Wait()

	count := 0
	for _, r := range refundable {
		if r {
			count++
		}
	}
	return results, count
}

func (s *GenerationService) dispatchOne(ctx context.Context, capability provider.Capability, unit *models.Generation) (res UnitResult, refund bool) {
	defer func() {
		if r := recover(); r != nil {
			res, refund = s.failUnit(ctx, unit, fmt.Errorf("panic: %v", r))
		}
	}()

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
	defer cancel()

	taskID, err := s.provider.CreateTask(dctx, kie.TaskRequest{
		Model:       capability.Model(unit.ReferenceMedia),
		Input:       capability.BuildInput(unit.Prompt, unit.SystemPrompt, unit.Params, unit.ReferenceMedia),
		CallbackURL: s.callbacks.URL(unit.ID),
	})
	if err != nil {
		return s.failUnit(ctx, unit, err)
	}

	if err := s.units.AttachTask(context.WithoutCancel(ctx), unit.ID, taskID); err != nil {
		// The provider holds the task; the signed callback can still resolve the unit.
		s.log.Error("attach task failed", "unit_id", unit.ID, "task_id", taskID, "err", err)
	}
	return UnitResult{ID: unit.ID, Status: models.GenerationProcessing, TaskID: taskID}, false
}

// failUnit marks a unit failed after a dispatch error. The unit is owed a refund only
// if this call made the terminal write; a callback that raced ahead owns the outcome.
func (s *GenerationService) failUnit(ctx context.Context, unit *models.Generation, cause error) (UnitResult, bool) {
	msg := fmt.Errorf("%w: %v", ErrDispatchFailed, cause).Error()
	s.log.Warn("dispatch failed", "unit_id", unit.ID, "batch_id", unit.BatchID, "err", cause)

	wctx := context.WithoutCancel(ctx)
	won, err := s.units.Resolve(wctx, unit.ID, models.Resolution{Status: models.GenerationFailed, Error: msg})
	if err != nil {
		// The provider never accepted the task, so no callback can arrive for it.
		s.log.Error("mark unit failed", "unit_id", unit.ID, "err", err)
		return UnitResult{ID: unit.ID, Status: models.GenerationFailed, Error: msg}, true
	}
	if !won {
		current, gerr := s.units.Get(wctx, unit.ID)
		if gerr == nil && current != nil {
			return UnitResult{ID: unit.ID, Status: current.Status, TaskID: current.ExternalTaskID, Error: current.Error}, false
		}
		return UnitResult{ID: unit.ID, Status: models.GenerationFailed, Error: msg}, false
	}
	return UnitResult{ID: unit.ID, Status: models.GenerationFailed, Error: msg}, true
}

func (s *GenerationService) History(ctx context.Context, accountID int64, limit, offset int) ([]models.Generation, error) {
	limit, offset = clampPage(limit, offset)
	return s.units.ListHistory(ctx, accountID, limit, offset, s.now())
}

func (s *GenerationService) Batch(ctx context.Context, accountID int64, batchID string) ([]models.Generation, error) {
	units, err := s.units.ListBatch(ctx, accountID, batchID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
	}
	return units, nil
}

func (s *GenerationService) Get(ctx context.Context, accountID, id int64) (*models.Generation, error) {
	unit, err := s.units.GetForAccount(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, fmt.Errorf("%w: generation %d", ErrNotFound, id)
	}
	return unit, nil
}

// Delete removes the caller's own units; ids of other accounts are silently ignored.
func (s *GenerationService) Delete(ctx context.Context, accountID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, invalidf("ids are required")
	}
	if len(ids) > maxDeleteIDs {
		return 0, invalidf("at most %d ids per request", maxDeleteIDs)
	}
	return s.units.Delete(ctx, accountID, ids)
}

func costDetail(c provider.Capability, p models.GenerationParams) string {
	if c.Kind == provider.KindVideo {
		d := fmt.Sprintf("%ds %s", p.Duration, p.Mode)
		if p.Sound {
			d += " +sound"
		}
		return d
	}
	return p.Resolution
}
