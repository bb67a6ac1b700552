// internal/service/eligibility/domain/merge.go
package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
)

// Rule 是一条带权重的资格规则：条件成立时按顺序展示 Offers。
type Rule struct {
	Name      string   `json:"name" yaml:"name"`
	Weight    int      `json:"weight" yaml:"weight"`
	Condition string   `json:"condition" yaml:"condition"`
	Offers    []string `json:"offers" yaml:"offers"`
}

// Key 返回规则的规范字符串，两条规则 Key 相同即视为同一规则。
func (r Rule) Key() string {
	return fmt.Sprintf("%s|%d|%s|%s", r.Name, r.Weight, r.Condition, strings.Join(r.Offers, ","))
}

// CountryRules 是一个国家按优先级从高到低排列的规则。
type CountryRules struct {
	Country string `json:"country" yaml:"country"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

// Placement 是合并结果中的一条规则实例及其适用的国家。
type Placement struct {
	Rule      Rule     `json:"rule"`
	Suffix    int      `json:"suffix"`
	Countries []string `json:"countries"`
}

// Name 是下游使用的规则名；同一规则被放置多次时带上后缀区分。
func (p Placement) Name() string {
	if p.Suffix == 0 {
		return p.Rule.Name
	}
	return fmt.Sprintf("%s_%d", p.Rule.Name, p.Suffix)
}

// Entry 把 placement 转换成定向配置中的规则条目。
func (p Placement) Entry() collaborator.RuleEntry {
	return collaborator.RuleEntry{
		Name:      p.Name(),
		Weight:    p.Rule.Weight,
		Condition: p.Rule.Condition,
		Offers:    append([]string(nil), p.Rule.Offers...),
		Countries: append([]string(nil), p.Countries...),
	}
}

// Entries 转换整个合并结果，保持顺序。
func Entries(placements []Placement) []collaborator.RuleEntry {
	out := make([]collaborator.RuleEntry, 0, len(placements))
	for _, p := range placements {
		out = append(out, p.Entry())
	}
	return out
}

// merger 的状态：规则字符串在 arena 中去重为整数 id，每个国家是一个只从尾部弹出的 id 队列。
type merger struct {
	rules  []Rule         // id -> 规则
	ids    map[string]int // Key -> id
	queues [][]int        // 国家 -> 剩余规则 id，尾部是当前最低优先级
	// holders[id][c] 是国家 c 剩余队列中 id 出现的次数。
	holders []map[int]int

	built   []draftPlacement // 自底向上构建
	latest  map[int]int      // id -> 最近一次放置在 built 中的下标
	lastPut []int            // 国家 -> 最近一次加入的 placement 下标，-1 表示尚未加入
}

type draftPlacement struct {
	rule      int
	suffix    int
	countries []int
}

func newMerger(input []CountryRules) *merger {
	m := &merger{
		ids:     make(map[string]int),
		queues:  make([][]int, len(input)),
		latest:  make(map[int]int),
		lastPut: make([]int, len(input)),
	}
	for c, cr := range input {
		m.lastPut[c] = -1
		q := make([]int, 0, len(cr.Rules))
		for _, r := range cr.Rules {
			id, ok := m.ids[r.Key()]
			if !ok {
				id = len(m.rules)
				m.ids[r.Key()] = id
				m.rules = append(m.rules, r)
				m.holders = append(m.holders, make(map[int]int))
			}
			q = append(q, id)
			m.holders[id][c]++
		}
		m.queues[c] = q
	}
	return m
}

func (m *merger) tail(c int) int {
	q := m.queues[c]
	return q[len(q)-1]
}

// collisions 统计除 c 以外仍在非尾部位置持有规则 id 的国家数。
func (m *merger) collisions(c, id int) int {
	n := 0
	for other, count := range m.holders[id] {
		if other == c {
			continue
		}
		if count > 1 || m.tail(other) != id {
			n++
		}
	}
	return n
}

// pick 选出冲突最少的尾部规则，平局取输入顺序最靠前的国家。
func (m *merger) pick() (int, bool) {
	best, bestScore := -1, 0
	for c, q := range m.queues {
		if len(q) == 0 {
			continue
		}
		score := m.collisions(c, m.tail(c))
		if best < 0 || score < bestScore {
			best, bestScore = m.tail(c), score
			if score == 0 {
				break
			}
		}
	}
	return best, best >= 0
}

func (m *merger) promote(id int) {
	var popped []int
	for c, q := range m.queues {
		if len(q) == 0 || q[len(q)-1] != id {
			continue
		}
		m.queues[c] = q[:len(q)-1]
		if m.holders[id][c]--; m.holders[id][c] == 0 {
			delete(m.holders[id], c)
		}
		popped = append(popped, c)
	}

	if at, ok := m.latest[id]; ok && m.canFold(at, popped) {
		p := &m.built[at]
		p.countries = append(p.countries, popped...)
		for _, c := range popped {
			m.lastPut[c] = at
		}
		return
	}

	suffix := 0
	if at, ok := m.latest[id]; ok {
		suffix = m.built[at].suffix + 1
	}
	at := len(m.built)
	m.built = append(m.built, draftPlacement{rule: id, suffix: suffix, countries: popped})
	m.latest[id] = at
	for _, c := range popped {
		m.lastPut[c] = at
	}
}

// canFold 要求弹出的国家都不在 placement at 及其之后构建的任何 placement 中，
// 否则合并会把规则放到该国家已放置规则的下方。
func (m *merger) canFold(at int, popped []int) bool {
	for _, c := range popped {
		if m.lastPut[c] >= at {
			return false
		}
	}
	return true
}

// MergeRules 把各国家的规则列表合并为一份共享、保序的规则列表，结果自上而下排列。
// 每个国家在结果中看到的规则顺序与输入一致；只被一个国家使用一次的规则不会带后缀。
func MergeRules(input []CountryRules) []Placement {
	m := newMerger(input)
	for {
		id, ok := m.pick()
		if !ok {
			break
		}
		m.promote(id)
	}

	out := make([]Placement, 0, len(m.built))
	for i := len(m.built) - 1; i >= 0; i-- {
		p := m.built[i]
		sort.Ints(p.countries)
		countries := make([]string, len(p.countries))
		for j, c := range p.countries {
			countries[j] = input[c].Country
		}
		out = append(out, Placement{Rule: m.rules[p.rule], Suffix: p.suffix, Countries: countries})
	}
	return out
}
