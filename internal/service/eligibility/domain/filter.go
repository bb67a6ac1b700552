// internal/service/eligibility/domain/filter.go
package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrFilterNotFound   = errors.New("eligibility filter not found")
	ErrStatusNotAllowed = errors.New("operation not allowed in current filter status")
	ErrInvalidFilter    = errors.New("invalid eligibility filter")
	// ErrDiverged 表示线上 published 配置与数据库中的 prodData 不一致，过滤器被退回 new。
	ErrDiverged = errors.New("published eligibility config diverged from stored data")
)

// FilterStatus 是资格过滤器的两阶段发布状态。
type FilterStatus int

const (
	FilterNew       FilterStatus = 1
	FilterDraft     FilterStatus = 2
	FilterStaged    FilterStatus = 3
	FilterPublished FilterStatus = 4
)

func (s FilterStatus) String() string {
	switch s {
	case FilterNew:
		return "new"
	case FilterDraft:
		return "draft"
	case FilterStaged:
		return "staged"
	case FilterPublished:
		return "published"
	}
	return fmt.Sprintf("FilterStatus(%d)", int(s))
}

// GlobalCountry 是全局过滤器在合并输入中使用的国家代码。
const GlobalCountry = "*"

// FilterData 是某个阶段的规则快照，规则按优先级从高到低。
type FilterData struct {
	Rules []Rule `json:"rules"`
}

// Validate 检查规则结构；条件表达式由 ConditionValidator 单独检查。
func (d FilterData) Validate() error {
	seen := make(map[string]struct{}, len(d.Rules))
	for i, r := range d.Rules {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("%w: rule %d has no name", ErrInvalidFilter, i)
		}
		if len(r.Offers) == 0 {
			return fmt.Errorf("%w: rule %s has no offers", ErrInvalidFilter, r.Name)
		}
		if _, dup := seen[r.Key()]; dup {
			return fmt.Errorf("%w: rule %s listed twice", ErrInvalidFilter, r.Name)
		}
		seen[r.Key()] = struct{}{}
	}
	return nil
}

// Filter 是一个商店（或全局）的用户资格过滤器。
type Filter struct {
	StoreCode string `json:"storeCode"` // 空字符串表示全局过滤器

	Status              FilterStatus `json:"statusId"`
	Draft               *FilterData  `json:"draftData,omitempty"`
	Staged              *FilterData  `json:"stgData,omitempty"`
	Prod                *FilterData  `json:"prodData,omitempty"`
	StgRollbackVersion  *int64       `json:"stgRollbackVersion,omitempty"`
	ProdRollbackVersion *int64       `json:"prodRollbackVersion,omitempty"`
	ErrMessage          string       `json:"errMessage,omitempty"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// Country 返回该过滤器在合并中代表的国家。
func (f *Filter) Country() string {
	if f.StoreCode == "" {
		return GlobalCountry
	}
	return f.StoreCode
}

// FilterRepository 是过滤器的持久化端口。
type FilterRepository interface {
	Find(ctx context.Context, storeCode string) (*Filter, error)
	List(ctx context.Context) ([]*Filter, error)
	Save(ctx context.Context, f *Filter) error
}

// ConditionValidator 检查规则条件表达式能否编译为布尔表达式。
type ConditionValidator interface {
	Validate(condition string) error
}

// Phase 选出过滤器某个阶段的数据。
type Phase func(f *Filter) *FilterData

func DraftPhase(f *Filter) *FilterData  { return f.Draft }
func StagedPhase(f *Filter) *FilterData { return f.Staged }
func ProdPhase(f *Filter) *FilterData   { return f.Prod }

// MergeInput 按 store code 排序收集各过滤器在 phase 阶段的规则；
// override 不为 nil 时用它替换 store 对应过滤器的数据。没有数据的过滤器不参与合并。
func MergeInput(filters []*Filter, phase Phase, store string, override *FilterData) []CountryRules {
	sorted := append([]*Filter(nil), filters...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StoreCode < sorted[j].StoreCode })

	found := false
	out := make([]CountryRules, 0, len(sorted)+1)
	for _, f := range sorted {
		data := phase(f)
		if f.StoreCode == store && override != nil {
			data, found = override, true
		}
		if data == nil || len(data.Rules) == 0 {
			continue
		}
		out = append(out, CountryRules{Country: f.Country(), Rules: data.Rules})
	}
	if override != nil && !found && len(override.Rules) > 0 {
		f := &Filter{StoreCode: store}
		out = append(out, CountryRules{Country: f.Country(), Rules: override.Rules})
		sort.SliceStable(out, func(i, j int) bool { return storeOf(out[i]) < storeOf(out[j]) })
	}
	return out
}

func storeOf(cr CountryRules) string {
	if cr.Country == GlobalCountry {
		return ""
	}
	return cr.Country
}
