package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	app "github.com/okian/devpulse/internal/app"
	"github.com/okian/devpulse/pkg/logger"
)

func newComputeCommand(opts *rootOptions) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "compute --scope <scope>",
		Short: "Recompute one scope and print its snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompute(cmd.Context(), opts, scope, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope to recompute")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func runCompute(ctx context.Context, opts *rootOptions, scope string, out io.Writer) error {
	cfg := *opts.cfg
	// One-shot runs never sweep.
	cfg.RefreshInterval = 0

	svc := app.New(&cfg, app.WithLogger(logger.Get()))
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop(context.Background())

	snap, err := svc.Recompute(ctx, scope)
	if err != nil {
		return fmt.Errorf("compute %s: %w", scope, err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func newScopesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scopes",
		Short: "List configured scopes and their repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(opts.cfg.Scopes)
		},
	}
}
