package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/mq"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// KafkaEventPublisher 把 offer 状态变更发布到 Kafka，按 offer 分区保证同一 offer 的事件有序。
type KafkaEventPublisher struct {
	writer mq.Writer
}

func NewKafkaEventPublisher(writer mq.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

func (p *KafkaEventPublisher) PublishStatusChanged(ctx context.Context, ev domain.StatusChanged) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal status event")
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(ev.StoreCode+"/"+ev.OfferCode), body); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event", ev.EventID).Msg("Failed to produce status event to Kafka")
		return errors.Wrap(err, "produce status event")
	}
	return nil
}

// LogEventPublisher 只记录事件，用于未配置 Kafka 的本地模式。
type LogEventPublisher struct{}

func (LogEventPublisher) PublishStatusChanged(ctx context.Context, ev domain.StatusChanged) error {
	logger.Ctx(ctx).Info().
		Str("offer", ev.StoreCode+"/"+ev.OfferCode).
		Str("action", string(ev.Action)).
		Stringer("from", ev.From).
		Stringer("to", ev.To).
		Msg("offer status changed")
	return nil
}
