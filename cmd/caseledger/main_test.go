package main

import (
	"bytes"
	"testing"

	backfilldomain "github.com/smallbiznis/caseledger/internal/backfill/domain"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestNormalizeCaseIDs(t *testing.T) {
	assert.Equal(t, []string{"2025001", "2025002"}, normalizeCaseIDs([]string{" 2025001", "", "2025002", "2025001 "}))
	assert.Empty(t, normalizeCaseIDs(nil))
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "yaml", "drift", "--case", "2025001"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestBackfillRejectsUnknownOperationBeforeStarting(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"backfill", "001_service_used", "sideways"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, backfilldomain.ErrInvalidOperation)
}

func TestDriftRequiresCase(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"drift"})
	err := cmd.Execute()
	require.EqualError(t, err, "--case is required")
}

func TestPrintReconcileSummaryText(t *testing.T) {
	plan := reconciledomain.Plan{Services: []reconciledomain.ServiceChange{{ServiceID: "svc-1"}}}
	summary := &reconciledomain.BatchSummary{
		Mode: reconciledomain.ModeExecute,
		Records: []*reconciledomain.Record{
			{CaseID: "2025001", Applied: true, Changes: datatypes.NewJSONType(plan), BackupLocation: "backups/a.json"},
			{CaseID: "2025003", Skipped: true, Changes: datatypes.NewJSONType(reconciledomain.Plan{})},
		},
		Failed:  []reconciledomain.CaseFailure{{CaseID: "2025009", Error: "transaction_conflict"}},
		Changed: 1,
		Skipped: 1,
	}

	var buf bytes.Buffer
	require.NoError(t, printReconcileSummary(&buf, "text", summary))
	out := buf.String()
	assert.Contains(t, out, "mode: execute")
	assert.Contains(t, out, "applied")
	assert.Contains(t, out, "backup=backups/a.json")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "transaction_conflict")
	assert.Contains(t, out, "changed: 1 skipped: 1 failed: 1")
}

func TestPrintDriftJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printDrift(&buf, "json", &driftdomain.CaseDrift{CaseID: "2025001"}))
	assert.Contains(t, buf.String(), `"case_id": "2025001"`)
}
