package infrastructure

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
)

// MemoryFilterRepository 是 domain.FilterRepository 的内存实现，用于本地模式和测试。
type MemoryFilterRepository struct {
	mu       sync.Mutex
	filters  map[string]*domain.Filter
	saveErrs []error
}

func NewMemoryFilterRepository() *MemoryFilterRepository {
	return &MemoryFilterRepository{filters: make(map[string]*domain.Filter)}
}

// FailNextSaves 让接下来的 len(errs) 次 Save 依次返回这些错误。
func (r *MemoryFilterRepository) FailNextSaves(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErrs = append(r.saveErrs, errs...)
}

// clone 通过 JSON 深拷贝，避免调用方修改仓储内部状态。
func clone(f *domain.Filter) *domain.Filter {
	b, _ := json.Marshal(f)
	var out domain.Filter
	_ = json.Unmarshal(b, &out)
	return &out
}

func (r *MemoryFilterRepository) Find(_ context.Context, storeCode string) (*domain.Filter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.filters[storeCode]
	if !ok {
		return nil, domain.ErrFilterNotFound
	}
	return clone(f), nil
}

func (r *MemoryFilterRepository) List(_ context.Context) ([]*domain.Filter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Filter, 0, len(r.filters))
	for _, f := range r.filters {
		out = append(out, clone(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoreCode < out[j].StoreCode })
	return out, nil
}

func (r *MemoryFilterRepository) Save(_ context.Context, f *domain.Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saveErrs) > 0 {
		err := r.saveErrs[0]
		r.saveErrs = r.saveErrs[1:]
		return err
	}
	r.filters[f.StoreCode] = clone(f)
	return nil
}
