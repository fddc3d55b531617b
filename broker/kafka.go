package broker

import (
	"context"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConsumer backs Consumer with github.com/twmb/franz-go, configured
// with auto_offset_reset=earliest and enable_auto_commit=false, bound to one
// topic under a configurable group ID. franz-go's consumer group balancing
// provides coarse-grained per-run parallelism via partition assignment from
// the broker.
type KafkaConsumer struct {
	client *kgo.Client
}

// NewKafkaConsumer dials brokers and joins groupID as a consumer of topic,
// with auto-commit disabled so the orchestrator controls commit timing
// exactly (once per processed batch, never on a background timer). extra
// lets callers append TLS/SASL/dialer options that pass through verbatim
// to the underlying client.
func NewKafkaConsumer(brokers []string, topic, groupID string, extra ...kgo.Opt) (*KafkaConsumer, error) {
	opts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(groupID),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}, extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &KafkaConsumer{client: client}, nil
}

// PollBatch blocks for up to maxWait collecting up to maxN records across
// every partition assigned to this consumer. A context deadline shorter
// than maxWait is respected; fetch errors on individual partitions are
// ignored (franz-go retries those internally) but a fatal fetch error
// (e.g. the client was closed) is returned.
func (c *KafkaConsumer) PollBatch(ctx context.Context, maxN int, maxWait time.Duration) ([]Record, error) {
	pollCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	fetches := c.client.PollRecords(pollCtx, maxN)
	if err := fetches.Err0(); err != nil && pollCtx.Err() == nil {
		return nil, err
	}

	var out []Record
	fetches.EachRecord(func(r *kgo.Record) {
		out = append(out, Record{Topic: r.Topic, Key: r.Key, Value: r.Value})
	})
	return out, nil
}

// CommitOffsets synchronously commits the offsets of every record returned
// by the most recent PollBatch call, matching the at-least-once contract:
// this must not be called until every message in the batch has succeeded
// or been routed to the error topic.
func (c *KafkaConsumer) CommitOffsets(ctx context.Context) error {
	return c.client.CommitUncommittedOffsets(ctx)
}

func (c *KafkaConsumer) Close() error {
	c.client.Close()
	return nil
}

// KafkaProducer backs Producer with github.com/twmb/franz-go.
type KafkaProducer struct {
	client *kgo.Client
}

// NewKafkaProducer dials brokers for producing only; it shares no consumer
// group state with KafkaConsumer. The orchestrator holds one of each open
// for its entire lifetime.
func NewKafkaProducer(brokers []string, extra ...kgo.Opt) (*KafkaProducer, error) {
	opts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
	}, extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &KafkaProducer{client: client}, nil
}

// Send publishes value to topic and blocks until the broker acknowledges
// it. Used both for parallel executor-task fan-out (via errgroup in the
// dispatch package) and for the single error-topic send in the
// orchestrator's failure path.
func (p *KafkaProducer) Send(ctx context.Context, topic string, key, value []byte) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	result := p.client.ProduceSync(ctx, rec)
	return result.FirstErr()
}

func (p *KafkaProducer) Close() error {
	p.client.Close()
	return nil
}
