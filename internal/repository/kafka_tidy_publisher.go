package repository

import (
	"context"

	"KSHPull/internal/domain/models"
	"KSHPull/internal/domain/repository"
	pkgkafka "KSHPull/pkg/kafka"
)

// DatasetHeader carries the dataset name on every tidy message.
const DatasetHeader = "dataset"

// KafkaTidyPublisher implements Publisher for Kafka, one message per record
// keyed by dataset and category so a series stays on one partition.
type KafkaTidyPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	chunk    int
}

// NewKafkaTidyPublisher creates Kafka publisher.
func NewKafkaTidyPublisher(producer *pkgkafka.Producer, topic string, chunk int) repository.Publisher {
	if chunk <= 0 {
		chunk = 500
	}
	return &KafkaTidyPublisher{producer: producer, topic: topic, chunk: chunk}
}

func (p *KafkaTidyPublisher) Publish(ctx context.Context, ds *models.TidyDataset) error {
	return p.publish(ctx, ds.Name, ds.Unit, ds.Records)
}

func (p *KafkaTidyPublisher) PublishBatch(ctx context.Context, dataset string, records []models.TidyRecord) error {
	return p.publish(ctx, dataset, "", records)
}

func (p *KafkaTidyPublisher) publish(ctx context.Context, dataset, unit string, records []models.TidyRecord) error {
	for start := 0; start < len(records); start += p.chunk {
		end := min(start+p.chunk, len(records))
		if err := p.producer.PublishBatch(ctx, p.topic, tidyMessages(dataset, unit, records[start:end])); err != nil {
			return err
		}
	}
	return nil
}

func tidyMessages(dataset, unit string, records []models.TidyRecord) []pkgkafka.Message {
	msgs := make([]pkgkafka.Message, len(records))
	for i, r := range records {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(dataset + "/" + r.Category.Key()),
			Value:   models.TidyEvent{Dataset: dataset, Unit: unit, Record: r},
			Headers: map[string]string{DatasetHeader: dataset},
		}
	}
	return msgs
}

func (p *KafkaTidyPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
