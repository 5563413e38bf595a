package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kyb-worker/internal/metrics"
	"github.com/sells-group/kyb-worker/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume verification jobs and run the analysis pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		m := metrics.New()

		dispatcher, err := initDispatcher(st, m)
		if err != nil {
			return err
		}

		producer, err := worker.NewProducer(cfg.Queue.Brokers)
		if err != nil {
			return err
		}

		consumer, err := worker.NewConsumer(queueConfig(), dispatcher, producer, st, m)
		if err != nil {
			return err
		}
		defer consumer.Close()

		zap.L().Info("worker started",
			zap.Strings("brokers", cfg.Queue.Brokers),
			zap.String("jobs_topic", cfg.Queue.JobsTopic),
			zap.String("group", cfg.Queue.Group),
		)

		if err := consumer.Run(ctx); err != nil && !eris.Is(err, context.Canceled) {
			return eris.Wrap(err, "consumer run")
		}
		zap.L().Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
