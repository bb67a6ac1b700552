package collaborator

import "context"

// ConfigSet 标识定向配置服务中的一个配置集，每个配置集有独立的全局版本号。
type ConfigSet string

const (
	ConfigSetOffers      ConfigSet = "offers"
	ConfigSetEligibility ConfigSet = "eligibility"
)

// CurrentVersion 用于 ReadConfig 读取当前版本。
const CurrentVersion int64 = 0

// OfferTarget 是 offers 配置集中的一个条目。
type OfferTarget struct {
	StoreCode         string   `json:"storeCode"`
	OfferCode         string   `json:"offerCode"`
	Kind              string   `json:"kind"`
	CouponCode        string   `json:"couponCode"`
	UpgradeCouponCode string   `json:"upgradeCouponCode,omitempty"`
	Priority          int      `json:"priority"`
	Countries         []string `json:"countries,omitempty"`
	Campaign          string   `json:"campaign,omitempty"`
}

// RuleEntry 是 eligibility 配置集中合并后的一条规则。
type RuleEntry struct {
	Name      string   `json:"name"`
	Weight    int      `json:"weight"`
	Condition string   `json:"condition"`
	Offers    []string `json:"offers"`
	Countries []string `json:"countries"`
}

// ConfigDocument 是某个配置集在某个版本的完整内容。
type ConfigDocument struct {
	Set     ConfigSet              `json:"set"`
	Version int64                  `json:"version"`
	Offers  map[string]OfferTarget `json:"offers,omitempty"`
	Rules   []RuleEntry            `json:"rules,omitempty"`
}

// Clone 返回文档的深拷贝。
func (d ConfigDocument) Clone() ConfigDocument {
	out := d
	if d.Offers != nil {
		out.Offers = make(map[string]OfferTarget, len(d.Offers))
		for k, v := range d.Offers {
			v.Countries = append([]string(nil), v.Countries...)
			out.Offers[k] = v
		}
	}
	if d.Rules != nil {
		out.Rules = make([]RuleEntry, len(d.Rules))
		for i, r := range d.Rules {
			r.Offers = append([]string(nil), r.Offers...)
			r.Countries = append([]string(nil), r.Countries...)
			out.Rules[i] = r
		}
	}
	return out
}

// Targeting 是带乐观版本控制的定向配置服务。
// WriteConfig 以 doc.Version 作为期望的当前版本，不一致时返回 remote.BusyError；成功返回新版本号。
type Targeting interface {
	ReadConfig(ctx context.Context, env Env, set ConfigSet, version int64) (ConfigDocument, error)
	WriteConfig(ctx context.Context, env Env, doc ConfigDocument) (int64, error)
	RollbackToVersion(ctx context.Context, env Env, set ConfigSet, version int64) error
}

// PropagationVerifier 检查定向配置是否已经同步到只读缓存。
// present 为 false 时检查条目已被移除。
type PropagationVerifier interface {
	Verify(ctx context.Context, env Env, set ConfigSet, key string, minVersion int64, present bool) error
}
