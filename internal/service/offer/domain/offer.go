// internal/service/offer/domain/offer.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
)

// Kind 是 offer 的类型。retention 与 extension 可以带升级方案。
type Kind string

const (
	KindAcquisition Kind = "acquisition"
	KindWinback     Kind = "winback"
	KindRetention   Kind = "retention"
	KindExtension   Kind = "extension"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAcquisition, KindWinback, KindRetention, KindExtension:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown offer kind %q", ErrInvalidOffer, s)
}

func (k Kind) SupportsUpgrade() bool {
	return k == KindRetention || k == KindExtension
}

// Eligibility 是各类型 offer 的资格条件；不同类型使用不同字段。
type Eligibility struct {
	Countries        []string `json:"countries,omitempty"`
	NewCustomersOnly bool     `json:"newCustomersOnly,omitempty"`
	LapsedDays       int      `json:"lapsedDays,omitempty"`
	MinTenureDays    int      `json:"minTenureDays,omitempty"`
	ExtensionDays    int      `json:"extensionDays,omitempty"`
}

// UpgradePlan 描述 retention/extension offer 的升级优惠券。
type UpgradePlan struct {
	PlanCode       string  `json:"planCode"`
	DiscountType   string  `json:"discountType"`
	DiscountValue  float64 `json:"discountValue"`
	DurationMonths int     `json:"durationMonths"`
}

// DraftData 是 offer 的完整载荷，也用于记录最近一次失败（ErrMessage）。
type DraftData struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	PlanCode       string            `json:"planCode"`
	DiscountType   string            `json:"discountType"`
	DiscountValue  float64           `json:"discountValue"`
	DurationMonths int               `json:"durationMonths"`
	Priority       int               `json:"priority"`
	Eligibility    Eligibility       `json:"eligibility"`
	UpgradePlan    *UpgradePlan      `json:"upgradePlan,omitempty"`
	Content        map[string]string `json:"content,omitempty"`
	ErrMessage     string            `json:"errMessage,omitempty"`
}

// Validate 检查载荷对 kind 是否完整。
func (d DraftData) Validate(kind Kind) error {
	var problems []string
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(d.PlanCode) == "" {
		problems = append(problems, "planCode is required")
	}
	switch d.DiscountType {
	case "percent":
		if d.DiscountValue <= 0 || d.DiscountValue > 100 {
			problems = append(problems, "percent discount must be in (0,100]")
		}
	case "fixed", "free-trial":
		if d.DiscountValue < 0 {
			problems = append(problems, "discountValue must not be negative")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown discountType %q", d.DiscountType))
	}
	if d.DurationMonths < 0 {
		problems = append(problems, "durationMonths must not be negative")
	}
	if d.UpgradePlan != nil && !kind.SupportsUpgrade() {
		problems = append(problems, fmt.Sprintf("%s offers cannot carry an upgrade plan", kind))
	}
	if kind == KindWinback && d.Eligibility.LapsedDays <= 0 {
		problems = append(problems, "winback offers need eligibility.lapsedDays")
	}
	if kind == KindExtension && d.Eligibility.ExtensionDays <= 0 {
		problems = append(problems, "extension offers need eligibility.extensionDays")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOffer, strings.Join(problems, "; "))
	}
	return nil
}

// DataIntegrity 由 DIT 检查填写，每项为 "ok" 或失败原因。
type DataIntegrity struct {
	CheckedAt time.Time `json:"checkedAt"`
	Env       string    `json:"env,omitempty"`
	Billing   string    `json:"billing,omitempty"`
	Content   string    `json:"content,omitempty"`
	Targeting string    `json:"targeting,omitempty"`
}

// Offer 由 (StoreCode, OfferCode) 唯一标识。StoreCode 同时也是区域代码。
type Offer struct {
	Kind      Kind      `json:"kind"`
	StoreCode string    `json:"storeCode"`
	OfferCode string    `json:"offerCode"`
	Campaign  string    `json:"campaign,omitempty"`
	Status    Status    `json:"statusId"`
	Draft     DraftData `json:"draftData"`

	// 每个环境的计费服务是独立实例，优惠券 id 分开保存。
	StgCouponID         string        `json:"stgCouponId,omitempty"`
	StgUpgradeCouponID  string        `json:"stgUpgradeCouponId,omitempty"`
	ProdCouponID        string        `json:"prodCouponId,omitempty"`
	ProdUpgradeCouponID string        `json:"prodUpgradeCouponId,omitempty"`
	GLRollbackVersion   *int64        `json:"glRollbackVersion,omitempty"`
	BuildKey            string        `json:"buildKey,omitempty"`
	DataIntegrity       DataIntegrity `json:"dataIntegrity"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// NewLocalDraft 创建一个处于 local-draft 状态的新 offer。
func NewLocalDraft(kind Kind, storeCode, offerCode, campaign string, draft DraftData) *Offer {
	now := time.Now().UTC()
	return &Offer{
		Kind:      kind,
		StoreCode: strings.ToUpper(storeCode),
		OfferCode: offerCode,
		Campaign:  campaign,
		Status:    StatusLocalDraft,
		Draft:     draft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key 是 offer 在锁、定向配置和日志中使用的标识。
func (o *Offer) Key() string {
	return o.StoreCode + "/" + o.OfferCode
}

func (o *Offer) CouponCode() string {
	return strings.ToUpper(o.StoreCode + "_" + o.OfferCode)
}

func (o *Offer) UpgradeCouponCode() string {
	return o.CouponCode() + "_UPGRADE"
}

func (o *Offer) ContentEntryID() string {
	return strings.ToLower("offer-" + o.StoreCode + "-" + o.OfferCode)
}

// HasUpgrade 报告该 offer 是否需要升级优惠券。
func (o *Offer) HasUpgrade() bool {
	return o.Kind.SupportsUpgrade() && o.Draft.UpgradePlan != nil
}

func (o *Offer) CouponSpec() collaborator.CouponSpec {
	return collaborator.CouponSpec{
		Code:           o.CouponCode(),
		Name:           o.Draft.Name,
		PlanCode:       o.Draft.PlanCode,
		DiscountType:   o.Draft.DiscountType,
		DiscountValue:  o.Draft.DiscountValue,
		DurationMonths: o.Draft.DurationMonths,
	}
}

func (o *Offer) UpgradeCouponSpec() collaborator.CouponSpec {
	u := o.Draft.UpgradePlan
	if u == nil {
		return collaborator.CouponSpec{}
	}
	return collaborator.CouponSpec{
		Code:           o.UpgradeCouponCode(),
		Name:           o.Draft.Name + " (upgrade)",
		PlanCode:       u.PlanCode,
		DiscountType:   u.DiscountType,
		DiscountValue:  u.DiscountValue,
		DurationMonths: u.DurationMonths,
	}
}

// Target 返回写入定向配置的条目。
func (o *Offer) Target() collaborator.OfferTarget {
	t := collaborator.OfferTarget{
		StoreCode:  o.StoreCode,
		OfferCode:  o.OfferCode,
		Kind:       string(o.Kind),
		CouponCode: o.CouponCode(),
		Priority:   o.Draft.Priority,
		Countries:  append([]string(nil), o.Draft.Eligibility.Countries...),
		Campaign:   o.Campaign,
	}
	if o.HasUpgrade() {
		t.UpgradeCouponCode = o.UpgradeCouponCode()
	}
	return t
}

// ContentEntry 返回写入内容服务的条目。
func (o *Offer) ContentEntry() collaborator.Entry {
	fields := map[string]string{
		"name":        o.Draft.Name,
		"description": o.Draft.Description,
	}
	for k, v := range o.Draft.Content {
		fields[k] = v
	}
	return collaborator.Entry{
		ID:        o.ContentEntryID(),
		StoreCode: o.StoreCode,
		OfferCode: o.OfferCode,
		Fields:    fields,
	}
}

// CouponID 返回 env 中的优惠券 id。
func (o *Offer) CouponID(env collaborator.Env) string {
	if env == collaborator.EnvPublished {
		return o.ProdCouponID
	}
	return o.StgCouponID
}

func (o *Offer) UpgradeCouponID(env collaborator.Env) string {
	if env == collaborator.EnvPublished {
		return o.ProdUpgradeCouponID
	}
	return o.StgUpgradeCouponID
}

func (o *Offer) SetCouponID(env collaborator.Env, id string) {
	if env == collaborator.EnvPublished {
		o.ProdCouponID = id
		return
	}
	o.StgCouponID = id
}

func (o *Offer) SetUpgradeCouponID(env collaborator.Env, id string) {
	if env == collaborator.EnvPublished {
		o.ProdUpgradeCouponID = id
		return
	}
	o.StgUpgradeCouponID = id
}
