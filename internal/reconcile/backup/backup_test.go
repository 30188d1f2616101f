package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingSink struct{}

func (failingSink) Name() string { return "broken" }

func (failingSink) Write(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func artifact() Artifact {
	return Artifact{
		RunID:     "01J8Z3J1G4TQ7D1K0W8Y4H6M2N",
		CaseID:    "2025 001",
		CreatedAt: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
		Changes: reconciledomain.Plan{Services: []reconciledomain.ServiceChange{
			{ServiceID: "s1", OldUsed: 10, NewUsed: 12, OldRemaining: 50, NewRemaining: 48},
		}},
	}
}

func TestFileSinkWritesReadableArtifact(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(zap.NewNop(), nil, NewFileSink(dir))

	locations, err := w.Write(context.Background(), artifact())
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, filepath.Join(dir, "reconciliation-backup-2025-001-01J8Z3J1G4TQ7D1K0W8Y4H6M2N.json"), locations[0])

	raw, err := os.ReadFile(locations[0])
	require.NoError(t, err)
	var decoded Artifact
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "2025 001", decoded.CaseID)
	assert.NotEmpty(t, decoded.Notice)
	assert.InDelta(t, 12, decoded.Changes.Services[0].NewUsed, 1e-9)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".tmp-"))
	}
}

func TestWriterReportsFailedSink(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(zap.NewNop(), nil, NewFileSink(dir), failingSink{})

	locations, err := w.Write(context.Background(), artifact())
	assert.Len(t, locations, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, reconciledomain.ErrBackupWriteFailure)
}

func TestWriterWithoutSinksFails(t *testing.T) {
	w := NewWriter(zap.NewNop(), nil)

	_, err := w.Write(context.Background(), artifact())
	assert.ErrorIs(t, err, reconciledomain.ErrBackupWriteFailure)
}
