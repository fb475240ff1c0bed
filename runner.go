package bezelagent

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Target is one provisioned virtual device as reported by the host tooling.
type Target struct {
	Name        string
	Handle      string
	State       string
	IsAvailable bool
}

// TargetStateQuiescent is the settled state a target must be in before boot.
const TargetStateQuiescent = "Shutdown"

// SupportedName maps a marketed device name to its provisioning identifier.
type SupportedName struct {
	Name       string
	Identifier string
}

// Profile is one capability profile (an OS runtime) and the device names it
// can provision.
type Profile struct {
	Version        string
	Identifier     string
	IsAvailable    bool
	SupportedNames []SupportedName
}

// ProbeResult is the record the measurement probe writes on the target.
type ProbeResult struct {
	Identifier string  `json:"identifier"`
	Bezel      float64 `json:"bezel"`
}

// TargetClient is the host-side capability surface the runner drives.
// Provision returns the handle of the new target; Boot blocks until the
// target reports ready. The concrete implementation shells out to the
// platform tooling; tests plug in fakes.
type TargetClient interface {
	ListTargets(ctx context.Context) ([]Target, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	Provision(ctx context.Context, name, deviceTypeID, profileID string) (string, error)
	Shutdown(ctx context.Context, handle string) error
	Boot(ctx context.Context, handle string) error
	Install(ctx context.Context, handle, payloadPath string) error
	Launch(ctx context.Context, handle, payloadID string) error
	ReadResult(ctx context.Context, handle, payloadID string) (ProbeResult, error)
	Terminate(ctx context.Context, handle, payloadID string) error
	Uninstall(ctx context.Context, handle, payloadID string) error
}

// ProbeBuilder produces the measurement payload installed on every target.
// Build runs once per batch.
type ProbeBuilder interface {
	Build(ctx context.Context) (string, error)
}

// GroupLifecycle exposes per-group progress callbacks.
type GroupLifecycle struct {
	OnGroupStarted  func(group WorkGroup)
	OnGroupFinished func(group WorkGroup, err error)
}

// GroupResult pairs a work group with its captured metric.
type GroupResult struct {
	Group WorkGroup
	Bezel float64
}

// FailedGroup pairs a work group with its failure classification.
type FailedGroup struct {
	Group  WorkGroup
	Reason FailureReason
	Err    error
}

// RunnerConfig controls the lifecycle runner.
type RunnerConfig struct {
	Client TargetClient
	// PayloadID identifies the installed probe for launch, result read,
	// terminate and uninstall.
	PayloadID string
	// SettleDelay is the fixed wait before the result read. The probe emits
	// no completion signal, so the runner waits instead of polling.
	SettleDelay time.Duration
	// TeardownSettleDelay is the wait between probe removal and target
	// shutdown. Defaults to SettleDelay.
	TeardownSettleDelay time.Duration
	Lifecycle           *GroupLifecycle
	Logger              zerolog.Logger
	// Sleep overrides time.Sleep in tests.
	Sleep func(time.Duration)
}

const defaultSettleDelay = 5 * time.Second

// LifecycleRunner drives work groups through acquire, boot, probe and
// teardown one at a time. Groups never run concurrently: they contend for
// the same host build artifacts and virtualization capacity.
type LifecycleRunner struct {
	cfg RunnerConfig
}

// NewLifecycleRunner validates cfg and applies defaults.
func NewLifecycleRunner(cfg RunnerConfig) (*LifecycleRunner, error) {
	if cfg.Client == nil {
		return nil, errors.New("lifecycle runner requires a target client")
	}
	if strings.TrimSpace(cfg.PayloadID) == "" {
		cfg.PayloadID = DefaultPayloadID
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.TeardownSettleDelay <= 0 {
		cfg.TeardownSettleDelay = cfg.SettleDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &LifecycleRunner{cfg: cfg}, nil
}

// Run executes every group in order with the payload at payloadPath. A
// failed group is classified and recorded; the next group still runs.
func (r *LifecycleRunner) Run(ctx context.Context, groups []WorkGroup, payloadPath string) ([]GroupResult, []FailedGroup) {
	results := make([]GroupResult, 0, len(groups))
	var failed []FailedGroup
	for _, group := range groups {
		if r.cfg.Lifecycle != nil && r.cfg.Lifecycle.OnGroupStarted != nil {
			r.cfg.Lifecycle.OnGroupStarted(group)
		}
		bezel, err := r.runGroup(ctx, group, payloadPath)
		if r.cfg.Lifecycle != nil && r.cfg.Lifecycle.OnGroupFinished != nil {
			r.cfg.Lifecycle.OnGroupFinished(group, err)
		}
		if err != nil {
			reason := failureReason(err)
			r.cfg.Logger.Warn().
				Str("display_name", group.DisplayName).
				Strs("identifiers", group.Identifiers).
				Str("reason", string(reason)).
				Err(err).
				Msg("group failed")
			failed = append(failed, FailedGroup{Group: group, Reason: reason, Err: err})
			continue
		}
		r.cfg.Logger.Info().
			Str("display_name", group.DisplayName).
			Strs("identifiers", group.Identifiers).
			Float64("bezel", bezel).
			Msg("group measured")
		results = append(results, GroupResult{Group: group, Bezel: bezel})
	}
	return results, failed
}

func (r *LifecycleRunner) runGroup(ctx context.Context, group WorkGroup, payloadPath string) (float64, error) {
	target, err := r.acquire(ctx, group.DisplayName)
	if err != nil {
		return 0, err
	}
	logger := r.cfg.Logger.With().
		Str("display_name", group.DisplayName).
		Str("handle", target.Handle).
		Logger()

	if err := r.boot(ctx, target); err != nil {
		return 0, newGroupFailure(ReasonBootFailed, err)
	}
	logger.Info().Msg("target booted")

	if err := r.cfg.Client.Install(ctx, target.Handle, payloadPath); err != nil {
		return 0, newGroupFailure(ReasonProbeLaunchFailed, errors.Wrap(err, "install probe"))
	}
	if err := r.cfg.Client.Launch(ctx, target.Handle, r.cfg.PayloadID); err != nil {
		return 0, newGroupFailure(ReasonProbeLaunchFailed, errors.Wrap(err, "launch probe"))
	}
	logger.Info().Msg("probe launched")

	r.cfg.Sleep(r.cfg.SettleDelay)

	result, err := r.cfg.Client.ReadResult(ctx, target.Handle, r.cfg.PayloadID)
	if err != nil {
		return 0, newGroupFailure(ReasonResultUnavailable, err)
	}
	logger.Info().Float64("bezel", result.Bezel).Str("probe_identifier", result.Identifier).Msg("result captured")

	r.teardown(ctx, target, logger)
	return result.Bezel, nil
}

// acquire reuses an available target matching the display name, or
// provisions a new one from the first available profile that supports it.
func (r *LifecycleRunner) acquire(ctx context.Context, displayName string) (Target, error) {
	targets, err := r.cfg.Client.ListTargets(ctx)
	if err != nil {
		return Target{}, newGroupFailure(ReasonNoSupportedProfile, errors.Wrap(err, "list targets"))
	}
	for _, t := range targets {
		if t.Name == displayName && t.IsAvailable {
			r.cfg.Logger.Debug().
				Str("display_name", displayName).
				Str("handle", t.Handle).
				Msg("reusing provisioned target")
			return t, nil
		}
	}

	profiles, err := r.cfg.Client.ListProfiles(ctx)
	if err != nil {
		return Target{}, newGroupFailure(ReasonNoSupportedProfile, errors.Wrap(err, "list profiles"))
	}
	for _, p := range profiles {
		if !p.IsAvailable {
			continue
		}
		for _, supported := range p.SupportedNames {
			if supported.Name != displayName {
				continue
			}
			handle, err := r.cfg.Client.Provision(ctx, displayName, supported.Identifier, p.Identifier)
			if err != nil {
				return Target{}, newGroupFailure(ReasonNoSupportedProfile, errors.Wrap(err, "provision target"))
			}
			r.cfg.Logger.Info().
				Str("display_name", displayName).
				Str("handle", handle).
				Str("profile", p.Identifier).
				Msg("provisioned target")
			return Target{Name: displayName, Handle: handle, State: TargetStateQuiescent, IsAvailable: true}, nil
		}
	}
	return Target{}, newGroupFailure(ReasonNoSupportedProfile, errors.Errorf("no capability profile supports %q", displayName))
}

func (r *LifecycleRunner) boot(ctx context.Context, target Target) error {
	if target.State != TargetStateQuiescent {
		// A target left running by an aborted run must not be booted twice.
		if err := r.cfg.Client.Shutdown(ctx, target.Handle); err != nil {
			return errors.Wrap(err, "force quiescent")
		}
	}
	if err := r.cfg.Client.Boot(ctx, target.Handle); err != nil {
		return errors.Wrap(err, "boot")
	}
	return nil
}

// teardown is best-effort: the result is already captured, so failures here
// are logged and swallowed. The next run's force-quiescent step repairs
// anything left behind.
func (r *LifecycleRunner) teardown(ctx context.Context, target Target, logger zerolog.Logger) {
	if err := r.cfg.Client.Terminate(ctx, target.Handle, r.cfg.PayloadID); err != nil {
		logger.Warn().Err(err).Msg("terminate probe failed")
	}
	if err := r.cfg.Client.Uninstall(ctx, target.Handle, r.cfg.PayloadID); err != nil {
		logger.Warn().Err(err).Msg("uninstall probe failed")
	}
	r.cfg.Sleep(r.cfg.TeardownSettleDelay)
	if err := r.cfg.Client.Shutdown(ctx, target.Handle); err != nil {
		logger.Warn().Err(err).Msg("shutdown target failed")
	}
}
