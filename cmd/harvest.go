package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

// runner is the part of the application the harvest command needs.
type runner interface {
	Pipeline(progressOut io.Writer) (*harvest.Pipeline, error)
}

func newHarvestCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Run one full harvest and persist the batch",
		Long: `Discovers every region, lists its breeders, fetches breeder details with
jittered retries and commits the deduplicated batch. Interrupt with Ctrl-C to
abandon the run; nothing is written until every stage has finished.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out io.Writer = cmd.OutOrStdout()
			if quiet {
				out = nil
			}
			return runHarvest(cmd.Context(), out)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "disable progress bars")
	return cmd
}

func runHarvest(ctx context.Context, progressOut io.Writer) error {
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	r, ok := a.(runner)
	if !ok {
		return errors.New("application cannot build a pipeline")
	}
	pipeline, err := r.Pipeline(progressOut)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := pipeline.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.Logger().Warn("harvest interrupted; nothing was persisted", zap.String("run_id", summary.RunID))
		}
		return fmt.Errorf("harvest: %w", err)
	}
	if len(summary.FailedEntities) > 0 {
		a.Logger().Warn("some entities were abandoned",
			zap.String("run_id", summary.RunID),
			zap.Strings("entity_ids", summary.FailedEntities),
		)
	}
	return nil
}
