package collaborator

import "context"

type CouponState string

const (
	CouponActive   CouponState = "active"
	CouponInactive CouponState = "inactive"
)

// CouponSpec 是创建或更新优惠券时提交的内容。
type CouponSpec struct {
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	PlanCode       string  `json:"planCode"`
	DiscountType   string  `json:"discountType"`
	DiscountValue  float64 `json:"discountValue"`
	DurationMonths int     `json:"durationMonths"`
}

// Coupon 是计费服务中优惠券的完整快照，RestoreCoupon 需要它。
type Coupon struct {
	ID string `json:"id"`
	CouponSpec
	State CouponState `json:"state"`
}

// Billing 是计费/优惠券服务。DeactivateCoupon 和 RestoreCoupon 是幂等的。
type Billing interface {
	CreateCoupon(ctx context.Context, env Env, spec CouponSpec) (Coupon, error)
	UpdateCoupon(ctx context.Context, env Env, id string, spec CouponSpec) (Coupon, error)
	DeactivateCoupon(ctx context.Context, env Env, id string) error
	RestoreCoupon(ctx context.Context, env Env, snapshot Coupon) error
	FetchCoupon(ctx context.Context, env Env, id string) (Coupon, error)
}
