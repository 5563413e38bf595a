package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kyb-worker/internal/worker"
)

var requeueLimit int

var requeueCmd = &cobra.Command{
	Use:   "requeue-dlq",
	Short: "Move dead-lettered jobs back onto the jobs topic with a fresh retry budget",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		producer, err := worker.NewProducer(cfg.Queue.Brokers)
		if err != nil {
			return err
		}

		requeued, err := worker.RequeueDLQ(ctx, queueConfig(), producer, requeueLimit)
		if err != nil {
			return err
		}

		zap.L().Info("dlq drain finished",
			zap.Int("requeued", requeued),
			zap.String("dlq_topic", cfg.Queue.DLQTopic),
		)
		return nil
	},
}

func init() {
	requeueCmd.Flags().IntVar(&requeueLimit, "limit", 100, "maximum jobs to requeue")
	rootCmd.AddCommand(requeueCmd)
}
