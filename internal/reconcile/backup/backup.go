// Package backup writes the human-readable before/after artifact of an
// executed reconciliation to storage that does not share fate with the
// primary database.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
	"go.uber.org/zap"
)

const artifactNotice = "old_* values are the cached aggregates before correction; new_* values are what the correction wrote"

// Artifact is the document written before an execute run touches the case.
type Artifact struct {
	RunID         string                    `json:"run_id"`
	CaseID        string                    `json:"case_id"`
	CaseName      string                    `json:"case_name"`
	CaseVersion   int64                     `json:"case_version"`
	Actor         string                    `json:"actor,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	Discrepancies []driftdomain.Discrepancy `json:"discrepancies"`
	Changes       reconciledomain.Plan      `json:"changes"`
	Notice        string                    `json:"notice"`
}

// FileName is unique per run and sorts by case.
func (a Artifact) FileName() string {
	return fmt.Sprintf("reconciliation-backup-%s-%s.json", slug.Make(a.CaseID), a.RunID)
}

// Sink stores one artifact and returns where it landed.
type Sink interface {
	Name() string
	Write(ctx context.Context, name string, data []byte) (string, error)
}

// Writer fans an artifact out to every configured sink. The backup only
// counts as written when all sinks succeed.
type Writer struct {
	sinks   []Sink
	log     *zap.Logger
	metrics *obsmetrics.ConsistencyMetrics
}

func NewWriter(log *zap.Logger, metrics *obsmetrics.ConsistencyMetrics, sinks ...Sink) *Writer {
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	return &Writer{
		sinks:   active,
		log:     log.Named("reconcile.backup"),
		metrics: metrics,
	}
}

// Write returns the locations that succeeded and a BackupError per failed
// sink, joined.
func (w *Writer) Write(ctx context.Context, artifact Artifact) ([]string, error) {
	if w == nil || len(w.sinks) == 0 {
		return nil, &reconciledomain.BackupError{Sink: "none", Err: errors.New("no backup sink configured")}
	}
	if artifact.Notice == "" {
		artifact.Notice = artifactNotice
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, &reconciledomain.BackupError{Sink: "encode", Err: err}
	}

	name := artifact.FileName()
	locations := make([]string, 0, len(w.sinks))
	var errs []error
	for _, sink := range w.sinks {
		location, err := sink.Write(ctx, name, data)
		if err != nil {
			w.metrics.IncBackupFailure(sink.Name())
			w.log.Error("backup write failed",
				zap.String("sink", sink.Name()),
				zap.String("case_id", artifact.CaseID),
				zap.String("run_id", artifact.RunID),
				zap.Error(err),
			)
			errs = append(errs, &reconciledomain.BackupError{Sink: sink.Name(), Err: err})
			continue
		}
		locations = append(locations, location)
	}
	return locations, errors.Join(errs...)
}
