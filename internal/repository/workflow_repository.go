package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/digkill/genledger/internal/models"
)

type WorkflowRepository struct {
	db *sql.DB
}

func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = `id, slug, name, COALESCE(description, ''), credit_cost, is_active, COALESCE(webhook_url, ''), allowed_models, created_at, updated_at`

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var w models.Workflow
	var allowed []byte
	if err := row.Scan(&w.ID, &w.Slug, &w.Name, &w.Description, &w.CreditCost, &w.IsActive, &w.WebhookURL, &allowed, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if len(allowed) > 0 {
		if err := json.Unmarshal(allowed, &w.AllowedModels); err != nil {
			return nil, fmt.Errorf("decode allowed models: %w", err)
		}
	}
	return &w, nil
}

func (r *WorkflowRepository) GetBySlug(ctx context.Context, slug string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE slug = ?`, slug)
	w, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return w, nil
}

func (r *WorkflowRepository) ListActive(ctx context.Context) ([]models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE is_active = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// Upsert creates the workflow or replaces the definition stored under its slug.
func (r *WorkflowRepository) Upsert(ctx context.Context, w *models.Workflow) (*models.Workflow, error) {
	const query = `
INSERT INTO workflows (slug, name, description, credit_cost, is_active, webhook_url, allowed_models)
VALUES (?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), description = VALUES(description), credit_cost = VALUES(credit_cost),
    is_active = VALUES(is_active), webhook_url = VALUES(webhook_url), allowed_models = VALUES(allowed_models)`
	var allowed any
	if len(w.AllowedModels) > 0 {
		b, err := json.Marshal(w.AllowedModels)
		if err != nil {
			return nil, fmt.Errorf("encode allowed models: %w", err)
		}
		allowed = string(b)
	}
	if _, err := r.db.ExecContext(ctx, query, w.Slug, w.Name, w.Description, w.CreditCost, w.IsActive, w.WebhookURL, allowed); err != nil {
		return nil, fmt.Errorf("upsert workflow: %w", err)
	}
	return r.GetBySlug(ctx, w.Slug)
}

func (r *WorkflowRepository) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	const query = `
INSERT INTO workflow_runs (account_id, workflow_id, status, model, input, credit_cost)
VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)`
	res, err := r.db.ExecContext(ctx, query, run.AccountID, run.WorkflowID, models.RunQueued, run.Model, nullableJSON(run.Input), run.CreditCost)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("run last insert id: %w", err)
	}
	run.ID = id
	run.Status = models.RunQueued
	return nil
}

const runColumns = `r.id, r.account_id, r.workflow_id, w.slug, w.name, r.status, COALESCE(r.model, ''), r.input, r.output,
COALESCE(r.error, ''), r.credit_cost, r.created_at, r.updated_at`

func scanRun(row rowScanner) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var input, output []byte
	if err := row.Scan(&run.ID, &run.AccountID, &run.WorkflowID, &run.WorkflowSlug, &run.WorkflowName, &run.Status, &run.Model,
		&input, &output, &run.Error, &run.CreditCost, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	if len(input) > 0 {
		run.Input = json.RawMessage(input)
	}
	if len(output) > 0 {
		run.Output = json.RawMessage(output)
	}
	return &run, nil
}

func (r *WorkflowRepository) GetRun(ctx context.Context, id int64) (*models.WorkflowRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs r JOIN workflows w ON w.id = r.workflow_id WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	return run, nil
}

func (r *WorkflowRepository) ListRuns(ctx context.Context, accountID int64, limit int) ([]models.WorkflowRun, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM workflow_runs r JOIN workflows w ON w.id = r.workflow_id
WHERE r.account_id = ?
ORDER BY r.created_at DESC, r.id DESC
LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var out []models.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// MarkRunning moves a queued run to running. A run that already reached a terminal
// state is left alone.
func (r *WorkflowRepository) MarkRunning(ctx context.Context, id int64) error {
	const query = `UPDATE workflow_runs SET status = 'running' WHERE id = ? AND status = 'queued'`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	return nil
}

// DeleteRun removes a run that never left the queue, used when its charge could not be taken.
func (r *WorkflowRepository) DeleteRun(ctx context.Context, id int64) error {
	const query = `DELETE FROM workflow_runs WHERE id = ? AND status = 'queued'`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// ResolveRun writes a terminal status while the run is still queued or running and
// reports whether this call won the transition.
func (r *WorkflowRepository) ResolveRun(ctx context.Context, id int64, status models.RunStatus, output json.RawMessage, errMsg string) (bool, error) {
	const query = `
UPDATE workflow_runs
SET status = ?, output = COALESCE(?, output), error = NULLIF(?, '')
WHERE id = ? AND status IN ('queued', 'running')`
	res, err := r.db.ExecContext(ctx, query, status, nullableJSON(output), errMsg, id)
	if err != nil {
		return false, fmt.Errorf("resolve workflow run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve run rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *WorkflowRepository) CreateCustomRequest(ctx context.Context, req *models.CustomWorkflowRequest) error {
	const query = `
INSERT INTO custom_workflow_requests (account_id, name, description, use_case, status)
VALUES (?, ?, ?, NULLIF(?, ''), 'pending')`
	res, err := r.db.ExecContext(ctx, query, req.AccountID, req.Name, req.Description, req.UseCase)
	if err != nil {
		return fmt.Errorf("insert custom workflow request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("custom request last insert id: %w", err)
	}
	req.ID = id
	req.Status = "pending"
	return nil
}
