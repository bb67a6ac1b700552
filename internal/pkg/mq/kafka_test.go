package mq

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrierSetOverwrites(t *testing.T) {
	c := KafkaHeaderCarrier{}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("baggage", "k=v")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}

func TestTraceContextRoundTripsThroughHeaders(t *testing.T) {
	prop := propagation.TraceContext{}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := KafkaHeaderCarrier{}
	prop.Inject(ctx, &headers)

	msg := kafka.Message{Headers: headers}
	carrier := KafkaHeaderCarrier(msg.Headers)
	got := trace.SpanContextFromContext(prop.Extract(context.Background(), &carrier))
	assert.Equal(t, sc.TraceID(), got.TraceID())
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers(" a:9092, ,b:9092"))
}

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestFailureHandlerForwardsToDeadLetter(t *testing.T) {
	w := &captureWriter{}
	h := NewFailureHandler(w)
	msg := kafka.Message{
		Topic:     "offer-build-results",
		Partition: 2,
		Offset:    41,
		Key:       []byte("build-1"),
		Value:     []byte("{not json"),
		Headers:   []kafka.Header{{Key: "traceparent", Value: []byte("t")}},
	}

	h.Handle(context.Background(), msg, assert.AnError)

	if assert.Len(t, w.msgs, 1) {
		got := KafkaHeaderCarrier(w.msgs[0].Headers)
		assert.Equal(t, "offer-build-results", got.Get(HeaderOriginalTopic))
		assert.Equal(t, "2", got.Get(HeaderOriginalPartition))
		assert.Equal(t, "41", got.Get(HeaderOriginalOffset))
		assert.Equal(t, assert.AnError.Error(), got.Get(HeaderExceptionMessage))
		assert.Equal(t, "t", got.Get("traceparent"))
		assert.Equal(t, msg.Value, w.msgs[0].Value)
	}
	assert.Len(t, msg.Headers, 1)
}

func TestFailureHandlerWithoutDeadLetterOnlyLogs(t *testing.T) {
	var h *FailureHandler
	h.Handle(context.Background(), kafka.Message{Topic: "x"}, assert.AnError)
	NewFailureHandler(nil).Handle(context.Background(), kafka.Message{Topic: "x"}, assert.AnError)
}
