package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codelab/internal/common/mq"
	appErr "codelab/pkg/errors"
)

// ResultEventPublisher announces finished runs to downstream consumers.
type ResultEventPublisher interface {
	PublishFinal(ctx context.Context, record RunRecord) error
}

// MQResultEventPublisher publishes run events to a message queue.
type MQResultEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQResultEventPublisher creates a new MQ result event publisher.
func NewMQResultEventPublisher(producer mq.Producer, topic string) *MQResultEventPublisher {
	return &MQResultEventPublisher{producer: producer, topic: topic}
}

// PublishFinal publishes a run.finished event keyed by run id.
func (p *MQResultEventPublisher) PublishFinal(ctx context.Context, record RunRecord) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("result publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("result topic is required")
	}
	if !record.Finished() {
		return appErr.ValidationError("status", "only finished runs are published")
	}
	event := RunEvent{
		Type:      RunEventFinished,
		Record:    record,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event failed: %w", err)
	}
	message := mq.NewMessage(record.RunID, payload)
	message.SetHeader("event", RunEventFinished)
	message.SetHeader("verdict", string(record.Result.Verdict))
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.PublishError, "publish run event failed")
	}
	return nil
}
