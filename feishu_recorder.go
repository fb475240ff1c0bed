package bezelagent

import (
	"context"
	"strings"
	"time"

	"github.com/bezelkit/BezelAgent/internal/feishusdk"
)

// FeishuRunSink mirrors run outcomes into a Feishu bitable so the team
// dashboard picks them up without polling the local ledger.
type FeishuRunSink struct {
	storage *feishusdk.RunStorage
}

// NewFeishuRunSinkFromEnv returns (nil, nil) when RUN_BITABLE_URL is unset.
func NewFeishuRunSinkFromEnv() (*FeishuRunSink, error) {
	store, err := feishusdk.NewRunStorageFromEnv()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, nil
	}
	return &FeishuRunSink{storage: store}, nil
}

// Record uploads one row per group outcome via the batch_create API.
func (s *FeishuRunSink) Record(ctx context.Context, record RunRecord) error {
	finishedAt := ""
	if !record.FinishedAt.IsZero() {
		finishedAt = record.FinishedAt.UTC().Format(time.RFC3339)
	}
	inputs := make([]feishusdk.RunRecordInput, 0, len(record.Outcomes))
	for _, out := range record.Outcomes {
		input := feishusdk.RunRecordInput{
			RunID:       record.RunID,
			DisplayName: out.Group.DisplayName,
			Identifiers: strings.Join(out.Group.Identifiers, ", "),
			FinishedAt:  finishedAt,
		}
		if out.Measured {
			input.Status = feishusdk.GroupStatusMeasured
			bezel := out.Bezel
			input.Bezel = &bezel
		} else {
			input.Status = feishusdk.GroupStatusFailed
			input.Reason = string(out.Reason)
			input.Detail = out.Detail
		}
		inputs = append(inputs, input)
	}
	if len(inputs) == 0 {
		return nil
	}
	return s.storage.WriteBatch(ctx, inputs)
}

// Close is a no-op; the underlying client holds no persistent resources.
func (s *FeishuRunSink) Close() error { return nil }

// Name identifies the sink in joined error messages.
func (s *FeishuRunSink) Name() string { return "feishu-bitable" }
