package saga

import (
	"context"
	"time"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/retry"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// Store 对本地数据库写入做有界重试，并保证状态只通过 NextStatus 计算。
type Store struct {
	Repo   domain.Repository
	Policy retry.Policy
}

func (s *Store) Save(ctx context.Context, o *domain.Offer) error {
	o.UpdatedAt = time.Now().UTC()
	return retry.Do(ctx, s.Policy, func(ctx context.Context) error {
		return s.Repo.Save(ctx, o)
	})
}

// Transition 计算并持久化 oc 的下一个状态。
func (s *Store) Transition(ctx context.Context, oc *OfferContext, outcome domain.Outcome) error {
	next, err := domain.NextStatus(domain.Transition{Op: oc.Op, Env: oc.Env, Outcome: outcome, Prior: oc.Prior})
	if err != nil {
		return err
	}
	oc.Offer.Status = next
	return s.Save(ctx, oc.Offer)
}

func (s *Store) AppendHistory(ctx context.Context, h *domain.History) error {
	return retry.Do(ctx, s.Policy, func(ctx context.Context) error {
		return s.Repo.AppendHistory(ctx, h)
	})
}
