package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digkill/genledger/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

const generationColumns = `id, batch_id, account_id, model, prompt, COALESCE(system_prompt, ''), params, reference_media, status,
COALESCE(result_url, ''), result_data, COALESCE(external_task_id, ''), credit_cost, COALESCE(error, ''), expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*models.Generation, error) {
	var g models.Generation
	var params, refs, resultData []byte
	if err := row.Scan(&g.ID, &g.BatchID, &g.AccountID, &g.ProviderID, &g.Prompt, &g.SystemPrompt, &params, &refs, &g.Status,
		&g.ResultURL, &resultData, &g.ExternalTaskID, &g.UnitCost, &g.Error, &g.ExpiresAt, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &g.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &g.ReferenceMedia); err != nil {
			return nil, fmt.Errorf("decode reference media: %w", err)
		}
	}
	if len(resultData) > 0 {
		g.ResultData = json.RawMessage(resultData)
	}
	return &g, nil
}

// CreateBatch inserts every unit of a batch in one transaction and fills in their ids.
func (r *GenerationRepository) CreateBatch(ctx context.Context, units []*models.Generation) error {
	const query = `
INSERT INTO generations (account_id, batch_id, model, prompt, system_prompt, params, reference_media, status, credit_cost, expires_at)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, g := range units {
		params, err := json.Marshal(g.Params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		refs := g.ReferenceMedia
		if refs == nil {
			refs = []string{}
		}
		refsJSON, err := json.Marshal(refs)
		if err != nil {
			return fmt.Errorf("encode reference media: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, g.AccountID, g.BatchID, g.ProviderID, g.Prompt, g.SystemPrompt,
			string(params), string(refsJSON), models.GenerationPending, g.UnitCost, g.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert generation: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("generation last insert id: %w", err)
		}
		g.ID = id
		g.Status = models.GenerationPending
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Get loads a unit without account scoping. Only the callback path uses it, after the
// unit-bound token was verified.
func (r *GenerationRepository) Get(ctx context.Context, id int64) (*models.Generation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	g, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

func (r *GenerationRepository) GetForAccount(ctx context.Context, accountID, id int64) (*models.Generation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = ? AND account_id = ?`, id, accountID)
	g, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation for account: %w", err)
	}
	return g, nil
}

func (r *GenerationRepository) ListBatch(ctx context.Context, accountID int64, batchID string) ([]models.Generation, error) {
	return r.list(ctx, `SELECT `+generationColumns+` FROM generations WHERE account_id = ? AND batch_id = ? ORDER BY id ASC`,
		accountID, batchID)
}

// ListInFlight returns the oldest non-terminal units of an account first.
func (r *GenerationRepository) ListInFlight(ctx context.Context, accountID int64, limit int) ([]models.Generation, error) {
	return r.list(ctx, `SELECT `+generationColumns+` FROM generations
WHERE account_id = ? AND status IN ('pending', 'processing')
ORDER BY created_at ASC, id ASC
LIMIT ?`, accountID, limit)
}

func (r *GenerationRepository) ListHistory(ctx context.Context, accountID int64, limit, offset int, now time.Time) ([]models.Generation, error) {
	return r.list(ctx, `SELECT `+generationColumns+` FROM generations
WHERE account_id = ? AND expires_at > ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`, accountID, now, limit, offset)
}

func (r *GenerationRepository) list(ctx context.Context, query string, args ...any) ([]models.Generation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// AttachTask stores the provider task id. A pending unit moves to processing; a unit a
// racing callback already resolved keeps its terminal status.
func (r *GenerationRepository) AttachTask(ctx context.Context, id int64, taskID string) error {
	const query = `
UPDATE generations
SET external_task_id = ?, status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, taskID, id); err != nil {
		return fmt.Errorf("attach task: %w", err)
	}
	return nil
}

// Resolve writes a terminal outcome only while the unit is still in flight. won reports
// whether this call performed the transition.
func (r *GenerationRepository) Resolve(ctx context.Context, id int64, res models.Resolution) (bool, error) {
	const query = `
UPDATE generations
SET status = ?, result_url = NULLIF(?, ''), result_data = COALESCE(?, result_data), error = NULLIF(?, '')
WHERE id = ? AND status IN ('pending', 'processing')`
	out, err := r.db.ExecContext(ctx, query, res.Status, res.ResultURL, nullableJSON(res.ResultData), res.Error, id)
	if err != nil {
		return false, fmt.Errorf("resolve generation: %w", err)
	}
	affected, err := out.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *GenerationRepository) SaveRawResult(ctx context.Context, id int64, raw json.RawMessage) error {
	const query = `UPDATE generations SET result_data = ? WHERE id = ? AND status IN ('pending', 'processing')`
	if _, err := r.db.ExecContext(ctx, query, nullableJSON(raw), id); err != nil {
		return fmt.Errorf("save raw result: %w", err)
	}
	return nil
}

// Delete removes the account's own units among ids and returns how many were removed.
func (r *GenerationRepository) Delete(ctx context.Context, accountID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, accountID)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM generations WHERE account_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete generations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete rows affected: %w", err)
	}
	return affected, nil
}
