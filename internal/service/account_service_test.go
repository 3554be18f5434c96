package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountLifecycle(t *testing.T) {
	store := newFakeLedger()
	ledger := NewLedgerService(store, testLogger())
	svc := NewAccountService(testLogger(), &fakeAccounts{}, ledger, fakeTokens{})
	ctx := context.Background()

	acc, err := svc.Create(ctx, CreateAccountInput{Email: " Ann@Example.com ", Name: "Ann", InitialCredits: 25})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", acc.Email)
	bal, _ := ledger.Balance(ctx, acc.ID)
	assert.Equal(t, int64(25), bal)

	_, err = svc.Create(ctx, CreateAccountInput{Email: "ann@example.com"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Create(ctx, CreateAccountInput{Email: "not-an-email"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	tok, err := svc.IssueToken(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok.Token)

	_, err = svc.IssueToken(ctx, 404)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Grant(ctx, acc.ID, 10, "support")
	require.NoError(t, err)
	bal, _ = ledger.Balance(ctx, acc.ID)
	assert.Equal(t, int64(35), bal)
}
