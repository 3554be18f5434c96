package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementsSplitsSchema(t *testing.T) {
	stmts := statements(schema)
	assert.Len(t, stmts, 10)
	for _, s := range stmts {
		assert.True(t, strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS"), s)
	}
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("app:secret@tcp(db:3306)/genledger?multiStatements=true")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.NotContains(t, dsn, "multiStatements")
	assert.True(t, strings.HasPrefix(dsn, "app:secret@tcp(db:3306)/genledger"))

	_, err = normalizeDSN("not a dsn")
	require.Error(t, err)
}
