package bezelagent

import "github.com/bezelkit/BezelAgent/internal/feishusdk"

// Defaults for the probe payload and the dataset artifacts. Each can be
// overridden by flags on the agent commands.
const (
	// DefaultPayloadID is the bundle identifier the measurement probe is
	// installed and launched under.
	DefaultPayloadID = "com.bezelkit.BezelProbe"
	// DefaultResultFile is the name of the file the probe writes inside its
	// data container's Documents directory.
	DefaultResultFile = "bezel.json"
	// DefaultDatasetFile is the pretty-printed working dataset, including
	// the pending and problematic queues.
	DefaultDatasetFile = "bezel.json"
	// DefaultMinifiedFile is the single-line distribution artifact.
	DefaultMinifiedFile = "bezel.min.json"
)

// Environment variable names consumed by the agent commands. Flags take
// precedence over these.
const (
	EnvDatasetFile    = "BEZEL_DATASET_FILE"
	EnvMinifiedFile   = "BEZEL_MIN_FILE"
	EnvPayloadProject = "BEZEL_PAYLOAD_PROJECT"
	EnvPayloadScheme  = "BEZEL_PAYLOAD_SCHEME"
	EnvResultFile     = "BEZEL_RESULT_FILE"
	EnvSettleDelay    = "BEZEL_SETTLE"
	EnvKeepPayload    = "BEZEL_KEEP_PAYLOAD"
)

// Shared environment variable names and status values for the Feishu run
// reporting integration, re-exported so callers can depend on the root
// package only.
const (
	// EnvRunBitableURL indicates where to push per-group run outcome rows.
	EnvRunBitableURL = feishusdk.EnvRunBitableURL

	GroupStatusMeasured = feishusdk.GroupStatusMeasured
	GroupStatusFailed   = feishusdk.GroupStatusFailed
)
