package feishusdk

import (
	"os"
	"strings"

	"github.com/bezelkit/BezelAgent/internal/env"
)

// Shared constants for the agent's Feishu bitable integration.
const (
	// EnvRunBitableURL points to the table receiving per-group run
	// outcomes. When empty, run reporting is disabled.
	EnvRunBitableURL = "RUN_BITABLE_URL"

	// GroupStatusMeasured marks a row whose group produced a metric.
	GroupStatusMeasured = "measured"
	// GroupStatusFailed marks a row whose group failed and will be retried.
	GroupStatusFailed = "failed"
)

// RunFields lists the column names inside the run outcome table.
type RunFields struct {
	RunID       string
	DisplayName string
	Identifiers string
	Status      string
	Reason      string
	Bezel       string
	Detail      string
	FinishedAt  string
}

var baseRunFields = RunFields{
	RunID:       "RunID",
	DisplayName: "DeviceName",
	Identifiers: "Identifiers",
	Status:      "Status",
	Reason:      "Reason",
	Bezel:       "Bezel",
	Detail:      "Detail",
	FinishedAt:  "FinishedAt",
}

// DefaultRunFields carries the active column mapping after environment
// overrides.
var DefaultRunFields = baseRunFields

func init() {
	_ = env.Ensure()
	RefreshFieldMappings()
}

// RefreshFieldMappings re-applies environment overrides to the exported
// field mappings. Call after loading .env files at runtime.
func RefreshFieldMappings() {
	DefaultRunFields = baseRunFields
	overrideFieldFromEnv("RUN_FIELD_RUNID", &DefaultRunFields.RunID)
	overrideFieldFromEnv("RUN_FIELD_DEVICE_NAME", &DefaultRunFields.DisplayName)
	overrideFieldFromEnv("RUN_FIELD_IDENTIFIERS", &DefaultRunFields.Identifiers)
	overrideFieldFromEnv("RUN_FIELD_STATUS", &DefaultRunFields.Status)
	overrideFieldFromEnv("RUN_FIELD_REASON", &DefaultRunFields.Reason)
	overrideFieldFromEnv("RUN_FIELD_BEZEL", &DefaultRunFields.Bezel)
	overrideFieldFromEnv("RUN_FIELD_DETAIL", &DefaultRunFields.Detail)
	overrideFieldFromEnv("RUN_FIELD_FINISHED_AT", &DefaultRunFields.FinishedAt)
}

func overrideFieldFromEnv(envName string, target *string) {
	if target == nil {
		return
	}
	if val, ok := os.LookupEnv(envName); ok {
		*target = strings.TrimSpace(val)
	}
}
