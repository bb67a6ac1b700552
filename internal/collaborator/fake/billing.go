package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

type Billing struct {
	Faults
	mu      sync.Mutex
	seq     int
	coupons map[collaborator.Env]map[string]collaborator.Coupon
}

func NewBilling() *Billing {
	return &Billing{coupons: map[collaborator.Env]map[string]collaborator.Coupon{}}
}

func (b *Billing) CreateCoupon(_ context.Context, env collaborator.Env, spec collaborator.CouponSpec) (collaborator.Coupon, error) {
	if err := b.hit("CreateCoupon"); err != nil {
		return collaborator.Coupon{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.coupons[env] {
		if c.Code == spec.Code && c.State == collaborator.CouponActive {
			return collaborator.Coupon{}, remote.New(remote.OriginBilling, "coupon code %s already active", spec.Code)
		}
	}
	b.seq++
	c := collaborator.Coupon{ID: fmt.Sprintf("cpn-%s-%d", env.Short(), b.seq), CouponSpec: spec, State: collaborator.CouponActive}
	if b.coupons[env] == nil {
		b.coupons[env] = map[string]collaborator.Coupon{}
	}
	b.coupons[env][c.ID] = c
	return c, nil
}

func (b *Billing) UpdateCoupon(_ context.Context, env collaborator.Env, id string, spec collaborator.CouponSpec) (collaborator.Coupon, error) {
	if err := b.hit("UpdateCoupon"); err != nil {
		return collaborator.Coupon{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.coupons[env][id]
	if !ok {
		return collaborator.Coupon{}, &remote.Error{Origin: remote.OriginBilling, Message: "coupon " + id, StatusCode: 404, Err: collaborator.ErrNotFound}
	}
	c.CouponSpec = spec
	b.coupons[env][id] = c
	return c, nil
}

func (b *Billing) DeactivateCoupon(_ context.Context, env collaborator.Env, id string) error {
	if err := b.hit("DeactivateCoupon"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.coupons[env][id]; ok {
		c.State = collaborator.CouponInactive
		b.coupons[env][id] = c
	}
	return nil
}

func (b *Billing) RestoreCoupon(_ context.Context, env collaborator.Env, snapshot collaborator.Coupon) error {
	if err := b.hit("RestoreCoupon"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.coupons[env] == nil {
		b.coupons[env] = map[string]collaborator.Coupon{}
	}
	b.coupons[env][snapshot.ID] = snapshot
	return nil
}

func (b *Billing) FetchCoupon(_ context.Context, env collaborator.Env, id string) (collaborator.Coupon, error) {
	if err := b.hit("FetchCoupon"); err != nil {
		return collaborator.Coupon{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.coupons[env][id]
	if !ok {
		return collaborator.Coupon{}, &remote.Error{Origin: remote.OriginBilling, Message: "coupon " + id, StatusCode: 404, Err: collaborator.ErrNotFound}
	}
	return c, nil
}

// Coupon 直接读取存储，不计入调用次数。
func (b *Billing) Coupon(env collaborator.Env, id string) (collaborator.Coupon, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.coupons[env][id]
	return c, ok
}

// Count 返回 env 中的优惠券总数。
func (b *Billing) Count(env collaborator.Env) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.coupons[env])
}
