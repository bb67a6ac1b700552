// Package fake 提供协作方的内存实现，用于测试和本地模式，支持按操作注入故障。
package fake

import "sync"

// Faults 记录每个操作的调用次数和注入的错误。
type Faults struct {
	mu     sync.Mutex
	always map[string]error
	once   map[string][]error
	calls  map[string]int
}

// Inject 让 op 之后的每次调用都返回 err，直到 Reset。
func (f *Faults) Inject(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.always == nil {
		f.always = map[string]error{}
	}
	f.always[op] = err
}

// InjectOnce 让 op 的下一次调用返回 err。
func (f *Faults) InjectOnce(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.once == nil {
		f.once = map[string][]error{}
	}
	f.once[op] = append(f.once[op], err)
}

func (f *Faults) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always = nil
	f.once = nil
}

// Calls 返回 op 被调用的次数（包括失败的调用）。
func (f *Faults) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faults) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
	if q := f.once[op]; len(q) > 0 {
		f.once[op] = q[1:]
		return q[0]
	}
	return f.always[op]
}
