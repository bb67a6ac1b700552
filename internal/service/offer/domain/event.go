// internal/service/offer/domain/event.go
package domain

import (
	"context"
	"time"
)

// StatusChanged 在 saga 成功推进 offer 状态后发布。
type StatusChanged struct {
	EventID    string        `json:"eventId"`
	Kind       Kind          `json:"kind"`
	StoreCode  string        `json:"storeCode"`
	OfferCode  string        `json:"offerCode"`
	Campaign   string        `json:"campaign,omitempty"`
	Action     HistoryAction `json:"action"`
	From       Status        `json:"from"`
	To         Status        `json:"to"`
	OccurredAt time.Time     `json:"occurredAt"`
}

type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event StatusChanged) error
}
