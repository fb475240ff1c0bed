package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bezelagent "github.com/bezelkit/BezelAgent"
	"github.com/bezelkit/BezelAgent/internal/env"
	"github.com/bezelkit/BezelAgent/internal/simctl"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newUpdateCmd() *cobra.Command {
	var (
		flagProject        string
		flagScheme         string
		flagResultFile     string
		flagPayloadID      string
		flagOnly           string
		flagSettle         time.Duration
		flagTeardownSettle time.Duration
		flagKeepPayload    bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Measure queued devices and merge results into the dataset",
		Long: "Builds the probe once, boots every resolved device group in order, and " +
			"rewrites both dataset files after the whole batch has finished.",
		RunE: func(cmd *cobra.Command, args []string) error {
			project := firstNonEmpty(flagProject, env.String(bezelagent.EnvPayloadProject, ""))
			if project == "" {
				return fmt.Errorf("--payload-project or $%s is required", bezelagent.EnvPayloadProject)
			}
			logger := log.Logger

			client := simctl.New(simctl.Config{
				ResultFile: firstNonEmpty(flagResultFile, env.String(bezelagent.EnvResultFile, "")),
				Logger:     logger,
			})
			derivedData := filepath.Join(os.TempDir(), "bezelagent-derived")
			builder := simctl.NewBuilder(simctl.BuilderConfig{
				ProjectDir:      project,
				Scheme:          firstNonEmpty(flagScheme, env.String(bezelagent.EnvPayloadScheme, "")),
				DerivedDataPath: derivedData,
				Logger:          logger,
			})
			settle := flagSettle
			if settle == 0 {
				settle = env.Duration(bezelagent.EnvSettleDelay, 0)
			}
			runner, err := bezelagent.NewLifecycleRunner(bezelagent.RunnerConfig{
				Client:              client,
				PayloadID:           flagPayloadID,
				SettleDelay:         settle,
				TeardownSettleDelay: flagTeardownSettle,
				Logger:              logger,
			})
			if err != nil {
				return err
			}
			recorder, err := bezelagent.NewRunRecorderFromEnv(logger)
			if err != nil {
				logger.Warn().Err(err).Msg("run ledger unavailable, continuing without reporting")
				recorder = nil
			}
			if recorder != nil {
				defer recorder.Close()
			}

			pipe, err := bezelagent.NewPipeline(bezelagent.PipelineConfig{
				Paths:    datasetPaths(),
				Builder:  builder,
				Runner:   runner,
				Recorder: recorder,
				Logger:   logger,
				Only:     bezelagent.ParseNameList(firstNonEmpty(flagOnly, env.String(bezelagent.EnvOnlyDevices, ""))),
			})
			if err != nil {
				return err
			}
			summary, err := pipe.Run(cmd.Context())
			if err != nil {
				return err
			}
			if !flagKeepPayload && !env.Bool(bezelagent.EnvKeepPayload, false) {
				if err := os.RemoveAll(derivedData); err != nil {
					logger.Warn().Err(err).Str("path", derivedData).Msg("payload cleanup failed")
				}
			}
			log.Info().
				Str("run_id", summary.RunID).
				Int("measured", len(summary.Measured)).
				Int("failed", len(summary.Failed)).
				Msg("update finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&flagProject, "payload-project", "", "Probe Xcode project directory overriding $BEZEL_PAYLOAD_PROJECT")
	cmd.Flags().StringVar(&flagScheme, "payload-scheme", "", "xcodebuild scheme overriding $BEZEL_PAYLOAD_SCHEME")
	cmd.Flags().StringVar(&flagResultFile, "result-file", "", "Probe result file name overriding $BEZEL_RESULT_FILE")
	cmd.Flags().StringVar(&flagPayloadID, "payload-id", "", "Probe bundle identifier (defaults to com.bezelkit.BezelProbe)")
	cmd.Flags().StringVar(&flagOnly, "only", "", "Comma-separated display names overriding $BEZEL_ONLY_DEVICES; other queued groups stay queued")
	cmd.Flags().DurationVar(&flagSettle, "settle", 0, "Wait before reading the probe result (defaults to 5s)")
	cmd.Flags().DurationVar(&flagTeardownSettle, "teardown-settle", 0, "Wait between probe removal and target shutdown (defaults to --settle)")
	cmd.Flags().BoolVar(&flagKeepPayload, "keep-payload", false, "Keep the built payload and derived data after the run")

	return cmd
}
