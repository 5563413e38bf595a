package worker

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/sells-group/kyb-worker/internal/metrics"
	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/store"
)

// Processor handles one parsed job. Implemented by the Dispatcher.
type Processor interface {
	Process(ctx context.Context, job model.VerificationJob) (Outcome, error)
}

// Consumer reads verification jobs from the jobs topic and translates each
// dispatch outcome into commit, republish, or dead-letter. Delivery is
// at-least-once: a record is committed only after its outcome is settled,
// and retries travel as new messages with an incremented attempt.
type Consumer struct {
	client    *kgo.Client
	processor Processor
	producer  Producer
	store     store.Store
	metrics   *metrics.Metrics
	cfg       QueueConfig
}

// NewConsumer creates a consumer-group member for the jobs topic.
// Auto-commit is disabled; handle commits each record explicitly once its
// disposition is known.
func NewConsumer(cfg QueueConfig, processor Processor, producer Producer, st store.Store, m *metrics.Metrics) (*Consumer, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.JobsTopic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "queue: create consumer")
	}
	return &Consumer{
		client:    client,
		processor: processor,
		producer:  producer,
		store:     st,
		metrics:   m,
		cfg:       cfg,
	}, nil
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	zap.L().Info("consumer: started",
		zap.String("topic", c.cfg.JobsTopic),
		zap.String("group", c.cfg.Group),
	)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			zap.L().Error("consumer: fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			c.consumePartition(ctx, c.client, p)
		})
	}
}

// recordCommitter is the slice of kgo.Client the partition loop needs.
type recordCommitter interface {
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(setOffsets map[string]map[int32]kgo.EpochOffset)
}

// consumePartition settles a partition's records in order. On the first
// handle error the partition is rewound to the failed record and the rest of
// the batch is abandoned, so the next poll re-fetches from the failed record
// instead of committing a later offset past it.
func (c *Consumer) consumePartition(ctx context.Context, cl recordCommitter, p kgo.FetchTopicPartition) {
	for _, rec := range p.Records {
		if err := c.handle(ctx, rec.Value); err != nil {
			zap.L().Error("consumer: handle record",
				zap.Int32("partition", p.Partition),
				zap.Int64("offset", rec.Offset),
				zap.Error(err),
			)
			cl.SetOffsets(map[string]map[int32]kgo.EpochOffset{
				p.Topic: {p.Partition: {Epoch: rec.LeaderEpoch, Offset: rec.Offset}},
			})
			return
		}
		if err := cl.CommitRecords(ctx, rec); err != nil {
			zap.L().Error("consumer: commit", zap.Error(err))
		}
	}
}

// Close shuts down the Kafka client.
func (c *Consumer) Close() {
	c.client.Close()
}

// handle settles one delivery. A returned error means the record must NOT be
// committed; the caller rewinds to it so it is fetched again. A nil return
// always commits, with any follow-up (retry, dead-letter) already republished
// as a new message.
func (c *Consumer) handle(ctx context.Context, payload []byte) error {
	job, err := model.ParseJob(payload)
	if err != nil {
		// Malformed jobs can never succeed; route straight to the DLQ.
		zap.L().Warn("consumer: malformed job, dead-lettering", zap.Error(err))
		c.metrics.IncrementOutcome("dead_lettered")
		return c.producer.Publish(ctx, c.cfg.DLQTopic, "", payload)
	}

	outcome, procErr := c.processor.Process(ctx, job)
	if procErr != nil {
		zap.L().Warn("consumer: job did not complete",
			zap.String("company_id", job.CompanyID),
			zap.String("outcome", outcome.String()),
			zap.Error(procErr),
		)
	}

	switch outcome {
	case OutcomeCompleted, OutcomeDropped:
		return nil

	case OutcomeRequeued:
		// Lock contention is not a failure: republish unchanged.
		payload, err := job.Encode()
		if err != nil {
			return err
		}
		return c.producer.Publish(ctx, c.cfg.JobsTopic, job.CompanyID, payload)

	case OutcomeRetry:
		// Attempt counts redeliveries, so the job is parked only once the
		// full retry budget has been spent.
		job.Attempt++
		if job.Attempt > c.cfg.MaxRetries {
			return c.deadLetter(ctx, job)
		}
		payload, err := job.Encode()
		if err != nil {
			return err
		}
		return c.producer.Publish(ctx, c.cfg.JobsTopic, job.CompanyID, payload)

	default:
		return eris.Errorf("consumer: unknown outcome %d", outcome)
	}
}

// deadLetter parks an exhausted job and marks the company's analysis failed.
func (c *Consumer) deadLetter(ctx context.Context, job model.VerificationJob) error {
	zap.L().Error("consumer: retries exhausted, dead-lettering",
		zap.String("company_id", job.CompanyID),
		zap.Int("attempt", job.Attempt),
	)
	c.metrics.IncrementOutcome("dead_lettered")

	payload, err := job.Encode()
	if err != nil {
		return err
	}
	if err := c.producer.Publish(ctx, c.cfg.DLQTopic, job.CompanyID, payload); err != nil {
		return err
	}
	if err := c.store.MarkAnalysisFailed(ctx, job.CompanyID); err != nil && !eris.Is(err, store.ErrCompanyNotFound) {
		zap.L().Warn("consumer: mark analysis failed", zap.String("company_id", job.CompanyID), zap.Error(err))
	}
	return nil
}
