package worker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/sells-group/kyb-worker/internal/model"
)

// ErrDLQRequeueDisabled is returned when draining is attempted without
// queue.dlq_requeue enabled.
var ErrDLQRequeueDisabled = eris.New("queue: dlq requeue is disabled (set queue.dlq_requeue)")

// dlqPollTimeout bounds each poll so a drained topic ends the loop instead
// of blocking.
const dlqPollTimeout = 5 * time.Second

// RequeueDLQ drains up to limit parked jobs from the dead-letter topic back
// onto the jobs topic with their attempt counter reset, so each gets a fresh
// retry budget. Malformed payloads are skipped and left committed; they can
// never succeed. Returns the number of jobs requeued.
func RequeueDLQ(ctx context.Context, cfg QueueConfig, producer Producer, limit int) (int, error) {
	if !cfg.DLQRequeue {
		return 0, ErrDLQRequeueDisabled
	}
	if limit <= 0 {
		return 0, eris.New("queue: requeue limit must be positive")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group+"-dlq-drain"),
		kgo.ConsumeTopics(cfg.DLQTopic),
	)
	if err != nil {
		return 0, eris.Wrap(err, "queue: create dlq consumer")
	}
	defer client.Close()

	requeued := 0
	for requeued < limit {
		pollCtx, cancel := context.WithTimeout(ctx, dlqPollTimeout)
		fetches := client.PollFetches(pollCtx)
		cancel()
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}
		records := fetches.Records()
		if len(records) == 0 {
			// Topic drained.
			break
		}
		for _, rec := range records {
			if requeued >= limit {
				break
			}
			job, err := model.ParseJob(rec.Value)
			if err != nil {
				zap.L().Warn("queue: skipping malformed dlq record", zap.Error(err))
				continue
			}
			job.Attempt = 0
			payload, err := job.Encode()
			if err != nil {
				return requeued, err
			}
			if err := producer.Publish(ctx, cfg.JobsTopic, job.CompanyID, payload); err != nil {
				return requeued, err
			}
			zap.L().Info("queue: dlq job requeued", zap.String("company_id", job.CompanyID))
			requeued++
		}
	}
	return requeued, nil
}
