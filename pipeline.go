package bezelagent

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// PipelineConfig wires the stages of one reconcile pass.
type PipelineConfig struct {
	Paths    DatasetPaths
	Builder  ProbeBuilder
	Runner   *LifecycleRunner
	Recorder *RunRecorder
	Logger   zerolog.Logger
	// Only restricts the pass to these display names when non-empty.
	Only []string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Pipeline loads the dataset, resolves outstanding work, drives every group
// through the device lifecycle and merges the outcome back to disk.
type Pipeline struct {
	cfg PipelineConfig
}

// NewPipeline validates cfg and applies defaults.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Builder == nil {
		return nil, errors.New("pipeline requires a probe builder")
	}
	if cfg.Runner == nil {
		return nil, errors.New("pipeline requires a lifecycle runner")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg}, nil
}

// RunSummary reports what one reconcile pass accomplished.
type RunSummary struct {
	RunID    string
	Resolved int
	Measured []GroupResult
	Failed   []FailedGroup
}

// Run executes one reconcile pass. The dataset on disk is replaced only
// after every resolved group has terminated, so an interrupted pass leaves
// the previous dataset intact and the queues unconsumed.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	startedAt := p.cfg.Now()
	summary := &RunSummary{RunID: NewRunID(startedAt)}
	logger := p.cfg.Logger.With().Str("run_id", summary.RunID).Logger()

	ds, err := LoadDataset(p.cfg.Paths.Full)
	if err != nil {
		return nil, err
	}

	groups := ResolvePending(ds)
	var skipped []WorkGroup
	if len(p.cfg.Only) > 0 {
		kept := FilterGroups(groups, p.cfg.Only)
		skipped = skippedGroups(groups, kept)
		groups = kept
		logger.Info().Strs("only", p.cfg.Only).Int("groups", len(groups)).Msg("restricted to requested display names")
	}
	summary.Resolved = len(groups)
	if len(groups) == 0 {
		logger.Info().Msg("queues empty, nothing to reconcile")
		return summary, nil
	}
	logger.Info().Int("groups", len(groups)).Msg("resolved work groups")

	payloadPath, err := p.cfg.Builder.Build(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrPayloadBuild, "%v", err)
	}
	logger.Info().Str("payload", payloadPath).Msg("probe payload built")

	results, failures := p.cfg.Runner.Run(ctx, groups, payloadPath)
	summary.Measured = results
	summary.Failed = failures

	merged := Reconcile(ds, results, failures)
	merged = requeueSkipped(merged, ds, skipped)
	if err := WriteDataset(merged, p.cfg.Paths); err != nil {
		return nil, err
	}

	p.logSummary(logger, summary)
	p.record(ctx, logger, startedAt, summary)
	return summary, nil
}

// skippedGroups returns the groups present in all but excluded by the filter.
// Display names are unique within a resolver batch, so the name set is exact.
func skippedGroups(all, kept []WorkGroup) []WorkGroup {
	if len(kept) == len(all) {
		return nil
	}
	keptNames := make(map[string]struct{}, len(kept))
	for _, group := range kept {
		keptNames[group.DisplayName] = struct{}{}
	}
	out := make([]WorkGroup, 0, len(all)-len(kept))
	for _, group := range all {
		if _, ok := keptNames[group.DisplayName]; !ok {
			out = append(out, group)
		}
	}
	return out
}

// requeueSkipped restores the pending entries of filtered-out groups so a
// restricted pass never drops queued work. Problematic entries survive the
// reconcile untouched and need no restoring.
func requeueSkipped(merged, original DeviceDataset, skipped []WorkGroup) DeviceDataset {
	for _, group := range skipped {
		for _, id := range group.Identifiers {
			if merged.HasDevice(id) {
				continue
			}
			entry, ok := original.Pending[id]
			if !ok {
				continue
			}
			merged.Pending[id] = entry
			delete(merged.Problematic, id)
		}
	}
	return merged
}

func (p *Pipeline) logSummary(logger zerolog.Logger, summary *RunSummary) {
	logger.Info().
		Int("resolved", summary.Resolved).
		Int("measured", len(summary.Measured)).
		Int("failed", len(summary.Failed)).
		Msg("reconcile pass finished")
	for _, failure := range summary.Failed {
		logger.Warn().
			Str("display_name", failure.Group.DisplayName).
			Strs("identifiers", failure.Group.Identifiers).
			Str("reason", string(failure.Reason)).
			Msg("left on problematic queue")
	}
}

// record pushes the run to the configured sinks. Reporting failures never
// fail the pass: the dataset is already on disk.
func (p *Pipeline) record(ctx context.Context, logger zerolog.Logger, startedAt time.Time, summary *RunSummary) {
	if p.cfg.Recorder == nil {
		return
	}
	record := RunRecord{
		RunID:      summary.RunID,
		StartedAt:  startedAt,
		FinishedAt: p.cfg.Now(),
	}
	for _, result := range summary.Measured {
		record.Outcomes = append(record.Outcomes, GroupOutcome{
			Group:    result.Group,
			Measured: true,
			Bezel:    result.Bezel,
		})
	}
	for _, failure := range summary.Failed {
		outcome := GroupOutcome{Group: failure.Group, Reason: failure.Reason}
		if failure.Err != nil {
			outcome.Detail = failure.Err.Error()
		}
		record.Outcomes = append(record.Outcomes, outcome)
	}
	if err := p.cfg.Recorder.Record(ctx, record); err != nil {
		logger.Warn().Err(err).Msg("run reporting failed")
	}
}
