package worker

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twmb/franz-go/pkg/kgo"
)

// QueueConfig holds the Kafka wiring for the job queue.
type QueueConfig struct {
	Brokers    []string `yaml:"brokers" mapstructure:"brokers"`
	JobsTopic  string   `yaml:"jobs_topic" mapstructure:"jobs_topic"`
	DLQTopic   string   `yaml:"dlq_topic" mapstructure:"dlq_topic"`
	Group      string   `yaml:"group" mapstructure:"group"`
	MaxRetries int      `yaml:"max_retries" mapstructure:"max_retries"`

	// DLQRequeue controls whether an operator draining the dead-letter topic
	// may resubmit jobs; the worker itself never reads the DLQ. Off by
	// default: a dead-lettered company stays analysis_status=failed until an
	// explicit resubmission.
	DLQRequeue bool `yaml:"dlq_requeue" mapstructure:"dlq_requeue"`
}

// Producer publishes job messages. Keyed by company id so one company's
// jobs stay ordered within a partition.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

type kafkaProducer struct {
	client *kgo.Client
}

// NewProducer creates a Kafka producer for job submission and retry
// republishing.
func NewProducer(brokers []string) (Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "queue: create producer")
	}
	return &kafkaProducer{client: client}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return eris.Wrapf(err, "queue: produce to %s", topic)
	}
	return nil
}
