package main

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eficia/eficia-api/internal/domain/ledger"
)

func TestReportDiscrepancies_Consistent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, reportDiscrepancies(&buf, nil))
	assert.Contains(t, buf.String(), "Ledger consistent")
}

func TestReportDiscrepancies_Drift(t *testing.T) {
	owner := uuid.New()
	var buf bytes.Buffer

	err := reportDiscrepancies(&buf, []ledger.Discrepancy{
		{AccountID: uuid.New(), OwnerID: owner, Balance: 120, Sum: 100},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 account(s)")
	assert.Contains(t, buf.String(), owner.String())
	assert.Contains(t, buf.String(), "20")
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "version"},
		{"verify"},
		{"create-admin"},
		{"token"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
