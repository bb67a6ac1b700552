// internal/pkg/mq/kafka.go
package mq

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// KafkaHeaderCarrier 让 otel propagator 可以读写 kafka 消息头。
type KafkaHeaderCarrier []kafka.Header

func (c *KafkaHeaderCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *KafkaHeaderCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *KafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

// NewKafkaWriter 创建一个按 key 哈希分区的 writer。brokers 以逗号分隔。
func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(splitBrokers(brokers)...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaReader 创建一个消费组 reader，offset 由调用方显式提交。
func NewKafkaReader(brokers, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        splitBrokers(brokers),
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
}

// Writer 是 *kafka.Writer 中发送消息的部分。
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ProduceMessage 发送一条消息，并把当前 trace 上下文注入到消息头中。
func ProduceMessage(ctx context.Context, w Writer, key, value []byte) error {
	tracer := otel.Tracer("mq")
	ctx, span := tracer.Start(ctx, "kafka.produce", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	if kw, ok := w.(*kafka.Writer); ok {
		span.SetAttributes(attribute.String("messaging.destination", kw.Topic))
	}

	headers := KafkaHeaderCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err := w.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Headers: headers})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// ExtractContext 从消息头中恢复上游的 trace 上下文。
func ExtractContext(ctx context.Context, msg kafka.Message) context.Context {
	carrier := KafkaHeaderCarrier(msg.Headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
