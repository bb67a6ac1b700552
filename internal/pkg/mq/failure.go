package mq

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
)

// 死信消息携带的原始位置与错误信息。
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionMessage  = "x-exception-message"
)

// FailureHandler 把处理失败的消息转发到死信主题，转发失败只记录日志。
type FailureHandler struct {
	dlt Writer
}

// NewFailureHandler 创建转发到 dlt 的处理器；dlt 为 nil 时只记录日志。
func NewFailureHandler(dlt Writer) *FailureHandler {
	return &FailureHandler{dlt: dlt}
}

func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	log := logger.Ctx(ctx).With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()
	log.Error().Err(cause).Msg("message processing failed")
	if h == nil || h.dlt == nil {
		return
	}

	headers := KafkaHeaderCarrier(append([]kafka.Header(nil), msg.Headers...))
	headers.Set(HeaderOriginalTopic, msg.Topic)
	headers.Set(HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	headers.Set(HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	headers.Set(HeaderExceptionMessage, cause.Error())

	err := h.dlt.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers})
	if err != nil {
		log.Error().Err(err).Msg("🚨 failed to forward message to dead letter topic")
		return
	}
	log.Warn().Msg("message forwarded to dead letter topic")
}
