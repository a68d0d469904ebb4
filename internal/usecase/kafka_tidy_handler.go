package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"KSHPull/internal/domain/models"
	domrepo "KSHPull/internal/domain/repository"
	mid "KSHPull/internal/middleware"
	"KSHPull/internal/repository"
	pkgkafka "KSHPull/pkg/kafka"
)

// RecordSink accepts one tidy event at a time, usually a batching pipeline.
type RecordSink interface {
	Process(ctx context.Context, ev models.TidyEvent) error
}

// KafkaTidyHandler consumes tidy events from Kafka and feeds the sink.
type KafkaTidyHandler struct {
	topic   string
	sink    RecordSink
	metrics domrepo.Metrics
}

func NewKafkaTidyHandler(topic string, sink RecordSink, metrics domrepo.Metrics) *KafkaTidyHandler {
	return &KafkaTidyHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaTidyHandler) Topic() string { return h.topic }

// Handle decodes one event. Undecodable or inconsistent messages are
// permanent failures and go straight to the DLQ.
func (h *KafkaTidyHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.TidyEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, err)
	}
	if hdr := pkgkafka.Header(ctx, repository.DatasetHeader); hdr != "" && !strings.EqualFold(hdr, ev.Dataset) {
		h.metrics.RecordError("consumer_header")
		return fmt.Errorf("%w: header dataset %q, payload dataset %q", pkgkafka.ErrPermanent, hdr, ev.Dataset)
	}

	start := time.Now()
	if err := h.sink.Process(ctx, ev); err != nil {
		if errors.Is(err, mid.ErrInvalidEvent) {
			return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, err)
		}
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordLatency("consume", time.Since(start).Seconds())
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTidyHandler)(nil)
