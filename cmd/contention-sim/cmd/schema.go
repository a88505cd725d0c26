package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// ErrBootstrapUnsupported is returned when the selected backend cannot create a schema.
var ErrBootstrapUnsupported = errors.New("backend does not support schema bootstrap")

func newSchemaCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create and seed the tables of a scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, scenarioConfig, logger, err := loadConfig(cmd, root.configPath)
			if err != nil {
				return err
			}

			backend, closeBackend, err := openBackend(ctx, cfg.Backend, 1, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeBackend() }()

			if err := bootstrap(ctx, backend, scenarioConfig); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "bootstrapped %d tables of scenario %s on %s\n",
				len(scenarioConfig.Tables), scenarioConfig.Name, backend.Name())

			return err
		},
	}

	addScenarioFlags(cmd)

	return cmd
}

// bootstrap creates and seeds the tables of cfg on backend.
func bootstrap(ctx context.Context, backend anomaly.Backend, cfg anomaly.ScenarioConfig) error {
	bootstrapper, ok := backend.(anomaly.SchemaBootstrapper)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBootstrapUnsupported, backend.Name())
	}

	if err := bootstrapper.Bootstrap(ctx, cfg.Tables, cfg.KeySpace); err != nil {
		return fmt.Errorf("bootstrap scenario %s: %w", cfg.Name, err)
	}

	return nil
}
