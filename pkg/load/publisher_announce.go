package load

import (
	"context"
	"io"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/logger"
)

// Announcement is the message emitted for every new version.
type Announcement struct {
	Dataset     string    `json:"dataset"`
	CID         cas.CID   `json:"cid"`
	Previous    cas.CID   `json:"previous,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// AnnounceOptions configures the Kafka producer.
type AnnounceOptions struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Dataset  string   `yaml:"dataset"`
	ClientID string   `yaml:"client_id"`
	Retries  int      `yaml:"retries"`
}

// AnnouncingPublisher decorates a publisher and emits each CID it
// publishes to a Kafka topic. The message is sent only after the inner
// publish succeeded.
type AnnouncingPublisher struct {
	inner    Publisher
	producer sarama.SyncProducer
	topic    string
	dataset  string
	now      func() time.Time
	logger   *zap.Logger
}

// NewSyncProducer connects a producer that waits for all in-sync replicas.
func NewSyncProducer(opts AnnounceOptions) (sarama.SyncProducer, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "announce publisher requires brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	if opts.Retries > 0 {
		cfg.Producer.Retry.Max = opts.Retries
	}
	if opts.ClientID != "" {
		cfg.ClientID = opts.ClientID
	}
	producer, err := sarama.NewSyncProducer(opts.Brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Kafka producer")
	}
	return producer, nil
}

// NewAnnouncingPublisher wraps inner.
func NewAnnouncingPublisher(inner Publisher, producer sarama.SyncProducer, topic, dataset string) (*AnnouncingPublisher, error) {
	if inner == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "announce publisher requires an inner publisher")
	}
	if topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "announce publisher requires a topic")
	}
	return &AnnouncingPublisher{
		inner:    inner,
		producer: producer,
		topic:    topic,
		dataset:  dataset,
		now:      time.Now,
		logger: logger.Get().With(zap.String("component", "announce_publisher"),
			zap.String("topic", topic)),
	}, nil
}

func (p *AnnouncingPublisher) Kind() string { return "announce" }

func (p *AnnouncingPublisher) Publish(ctx context.Context, cid cas.CID) error {
	previous, _, err := p.inner.Retrieve(ctx)
	if err != nil {
		return err
	}
	if err := p.inner.Publish(ctx, cid); err != nil {
		return err
	}
	return p.announce(previous, cid)
}

func (p *AnnouncingPublisher) Retrieve(ctx context.Context) (cas.CID, bool, error) {
	return p.inner.Retrieve(ctx)
}

// PublishIf delegates to the inner publisher's PublishIf when it has one.
func (p *AnnouncingPublisher) PublishIf(ctx context.Context, expected, next cas.CID) error {
	if err := publish(ctx, p.inner, expected, next); err != nil {
		return err
	}
	return p.announce(expected, next)
}

// Close closes the producer and the wrapped publisher.
func (p *AnnouncingPublisher) Close() error {
	err := p.producer.Close()
	if c, ok := p.inner.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (p *AnnouncingPublisher) announce(previous, cid cas.CID) error {
	payload, err := json.Marshal(Announcement{
		Dataset:     p.dataset,
		CID:         cid,
		Previous:    previous,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode announcement")
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(p.dataset),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "published %s but failed to announce it on %s", cid, p.topic)
	}
	p.logger.Info("announced dataset version",
		zap.String("dataset", p.dataset),
		zap.Stringer("cid", cid),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}
