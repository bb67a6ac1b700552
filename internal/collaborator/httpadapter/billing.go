package httpadapter

import (
	"context"
	"fmt"
	"net/url"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/httpclient"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

// BillingAdapter 实现 collaborator.Billing。
type BillingAdapter struct {
	client *httpclient.Client
}

func NewBillingAdapter(client *httpclient.Client) *BillingAdapter {
	return &BillingAdapter{client: client}
}

func couponPath(env collaborator.Env, id string) string {
	if id == "" {
		return fmt.Sprintf("/v1/%s/coupons", env)
	}
	return fmt.Sprintf("/v1/%s/coupons/%s", env, url.PathEscape(id))
}

func (a *BillingAdapter) CreateCoupon(ctx context.Context, env collaborator.Env, spec collaborator.CouponSpec) (collaborator.Coupon, error) {
	var out collaborator.Coupon
	err := a.client.Post(ctx, ServiceBilling, couponPath(env, ""), spec, &out)
	return out, mapError(remote.OriginBilling, err)
}

func (a *BillingAdapter) UpdateCoupon(ctx context.Context, env collaborator.Env, id string, spec collaborator.CouponSpec) (collaborator.Coupon, error) {
	var out collaborator.Coupon
	err := a.client.Put(ctx, ServiceBilling, couponPath(env, id), spec, &out)
	return out, mapError(remote.OriginBilling, err)
}

func (a *BillingAdapter) DeactivateCoupon(ctx context.Context, env collaborator.Env, id string) error {
	err := a.client.Post(ctx, ServiceBilling, couponPath(env, id)+"/deactivate", nil, nil)
	return mapError(remote.OriginBilling, err)
}

func (a *BillingAdapter) RestoreCoupon(ctx context.Context, env collaborator.Env, snapshot collaborator.Coupon) error {
	err := a.client.Post(ctx, ServiceBilling, couponPath(env, snapshot.ID)+"/restore", snapshot, nil)
	return mapError(remote.OriginBilling, err)
}

func (a *BillingAdapter) FetchCoupon(ctx context.Context, env collaborator.Env, id string) (collaborator.Coupon, error) {
	var out collaborator.Coupon
	err := a.client.Get(ctx, ServiceBilling, couponPath(env, id), &out)
	return out, mapError(remote.OriginBilling, err)
}
