package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genledger/internal/models"
)

var resolveSQL = regexp.QuoteMeta(`WHERE id = ? AND status IN ('pending', 'processing')`)

func TestResolveLosingWriterChangesNothing(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(resolveSQL).
		WithArgs(models.GenerationFailed, "", sqlmock.AnyArg(), "dispatch failed: timeout", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := NewGenerationRepository(db).Resolve(context.Background(), 3,
		models.Resolution{Status: models.GenerationFailed, Error: "dispatch failed: timeout"})
	require.NoError(t, err)
	assert.False(t, won)
}

func TestResolveWinningWriter(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(resolveSQL).
		WithArgs(models.GenerationCompleted, "https://cdn.test/a.png", sqlmock.AnyArg(), "", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := NewGenerationRepository(db).Resolve(context.Background(), 3,
		models.Resolution{Status: models.GenerationCompleted, ResultURL: "https://cdn.test/a.png"})
	require.NoError(t, err)
	assert.True(t, won)
}

func TestResolveWrapsDriverError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(resolveSQL).WillReturnError(errors.New("deadlock found"))

	_, err := NewGenerationRepository(db).Resolve(context.Background(), 3, models.Resolution{Status: models.GenerationFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve generation")
}

func TestDeleteRunOnlyTouchesQueuedRuns(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM workflow_runs WHERE id = ? AND status = 'queued'`)).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewWorkflowRepository(db).DeleteRun(context.Background(), 9))
}
