package mint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	id "signet/pkg/domain"
)

// Producer is the part of *kgo.Client the Kafka minter needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaMinter publishes one mint request record per completed document and
// waits for the broker acknowledgement. Records are keyed by storage id so all
// requests for a document land on one partition.
type KafkaMinter struct {
	producer Producer
	topic    string
	logger   *slog.Logger
}

func NewKafkaMinter(producer Producer, topic string, logger *slog.Logger) *KafkaMinter {
	return &KafkaMinter{producer: producer, topic: topic, logger: logger}
}

func (m *KafkaMinter) Mint(ctx context.Context, recipient id.Identity, ref id.StorageID, key string) error {
	req := newRequest(ctx, recipient, ref, key)
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode mint request: %w", err)
	}

	record := &kgo.Record{
		Topic: m.topic,
		Key:   []byte(ref),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "mint_id", Value: []byte(req.MintID)},
		},
	}
	if err := m.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish mint request: %w", err)
	}

	if m.logger != nil {
		m.logger.InfoContext(ctx, "mint request published",
			"mint_id", req.MintID,
			"storage_id", ref.String(),
			"topic", m.topic,
			"partition", record.Partition,
			"offset", record.Offset,
		)
	}
	return nil
}
