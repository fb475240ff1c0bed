package bezelagent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bezelkit/BezelAgent/internal/storage"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const envDisableLedger = "BEZEL_LEDGER_DISABLE"

// GroupOutcome captures the terminal state of one work group for reporting.
type GroupOutcome struct {
	Group    WorkGroup
	Measured bool
	Bezel    float64
	Reason   FailureReason
	Detail   string
}

// RunRecord summarizes one completed reconcile run for the configured sinks.
type RunRecord struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []GroupOutcome
	Error      string
}

// RunSink defines the contract for each run reporting implementation.
type RunSink interface {
	Record(ctx context.Context, record RunRecord) error
	Close() error
	Name() string
}

// RunRecorder fan-outs run records to the configured sinks.
type RunRecorder struct {
	sinks []RunSink
	name  string
}

// NewRunRecorder builds a recorder over the provided sinks. Nil sinks are
// skipped.
func NewRunRecorder(sinks ...RunSink) *RunRecorder {
	kept := make([]RunSink, 0, len(sinks))
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		kept = append(kept, s)
		names = append(names, s.Name())
	}
	return &RunRecorder{sinks: kept, name: strings.Join(names, ",")}
}

// NewRunRecorderFromEnv assembles sinks from environment configuration. The
// SQLite ledger is on unless BEZEL_LEDGER_DISABLE is set; Feishu reporting
// turns on when RUN_BITABLE_URL is present. A misconfigured Feishu sink is
// logged and skipped rather than failing the run.
func NewRunRecorderFromEnv(logger zerolog.Logger) (*RunRecorder, error) {
	sinks := make([]RunSink, 0, 2)
	if !ledgerDisabled() {
		ledger, err := storage.Open()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, &ledgerSink{ledger: ledger})
	}
	feishu, err := NewFeishuRunSinkFromEnv()
	if err != nil {
		logger.Warn().Err(err).Msg("feishu run reporting unavailable")
	} else if feishu != nil {
		sinks = append(sinks, feishu)
	}
	recorder := NewRunRecorder(sinks...)
	if len(recorder.sinks) == 0 {
		logger.Debug().Msg("run reporting disabled, no sinks configured")
	}
	return recorder, nil
}

func ledgerDisabled() bool {
	val := strings.TrimSpace(os.Getenv(envDisableLedger))
	return strings.EqualFold(val, "1") || strings.EqualFold(val, "true")
}

// Record writes the run to every sink and joins the failures.
func (r *RunRecorder) Record(ctx context.Context, record RunRecord) error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Record(ctx, record); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s record failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

// Close releases every sink.
func (r *RunRecorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s close failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

// Name lists the active sinks.
func (r *RunRecorder) Name() string {
	if r == nil || r.name == "" {
		return "run-recorder"
	}
	return r.name
}

// ledgerSink persists runs into the local SQLite ledger.
type ledgerSink struct {
	ledger *storage.Ledger
}

func (s *ledgerSink) Record(ctx context.Context, record RunRecord) error {
	row := storage.RunRow{
		RunID:      record.RunID,
		StartedAt:  record.StartedAt,
		FinishedAt: record.FinishedAt,
		Error:      record.Error,
	}
	if d := record.FinishedAt.Sub(record.StartedAt); d > 0 {
		row.DurationMS = d.Milliseconds()
	}
	groups := make([]storage.GroupRow, 0, len(record.Outcomes))
	for _, out := range record.Outcomes {
		row.Processed++
		row.Devices += int64(len(out.Group.Identifiers))
		g := storage.GroupRow{
			RunID:       record.RunID,
			DisplayName: out.Group.DisplayName,
			Identifiers: strings.Join(out.Group.Identifiers, ","),
			Status:      storage.GroupStatusMeasured,
		}
		if out.Measured {
			g.Bezel = sql.NullFloat64{Float64: out.Bezel, Valid: true}
		} else {
			row.Failed++
			g.Status = storage.GroupStatusFailed
			g.Reason = string(out.Reason)
			g.Detail = out.Detail
		}
		groups = append(groups, g)
	}
	return s.ledger.RecordRun(ctx, row, groups)
}

func (s *ledgerSink) Close() error { return s.ledger.Close() }

func (s *ledgerSink) Name() string { return "sqlite-ledger" }
