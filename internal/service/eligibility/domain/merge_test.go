package domain_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
)

func rule(name string) domain.Rule {
	return domain.Rule{Name: name, Weight: 10, Condition: "true", Offers: []string{name + "-offer"}}
}

func names(ps []domain.Placement) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name()
	}
	return out
}

// view 返回某个国家在合并结果中自上而下看到的规则。
func view(ps []domain.Placement, country string) []string {
	var out []string
	for _, p := range ps {
		for _, c := range p.Countries {
			if c == country {
				out = append(out, p.Rule.Key())
			}
		}
	}
	return out
}

func keys(rules []domain.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Key()
	}
	return out
}

func TestMergeRulesSharedTail(t *testing.T) {
	ps := domain.MergeRules([]domain.CountryRules{
		{Country: "US", Rules: []domain.Rule{rule("lapsed"), rule("default")}},
		{Country: "GB", Rules: []domain.Rule{rule("default")}},
	})
	require.Len(t, ps, 2)
	assert.Equal(t, []string{"lapsed", "default"}, names(ps))
	assert.Equal(t, []string{"US"}, ps[0].Countries)
	assert.Equal(t, []string{"US", "GB"}, ps[1].Countries)
}

func TestMergeRulesConflictingOrderSplitsPlacement(t *testing.T) {
	x, y := rule("x"), rule("y")
	ps := domain.MergeRules([]domain.CountryRules{
		{Country: "A", Rules: []domain.Rule{x, y}},
		{Country: "B", Rules: []domain.Rule{y, x}},
	})
	require.Len(t, ps, 3)
	assert.Equal(t, []string{"y_1", "x", "y"}, names(ps))
	assert.Equal(t, []string{"B"}, ps[0].Countries)
	assert.Equal(t, []string{"A", "B"}, ps[1].Countries)
	assert.Equal(t, []string{"A"}, ps[2].Countries)

	entries := domain.Entries(ps)
	assert.Equal(t, "y_1", entries[0].Name)
	assert.Equal(t, []string{"y-offer"}, entries[0].Offers)
}

func TestMergeRulesFoldsWhenOrderAllows(t *testing.T) {
	a, b, c := rule("a"), rule("b"), rule("c")
	ps := domain.MergeRules([]domain.CountryRules{
		{Country: "US", Rules: []domain.Rule{a, c}},
		{Country: "CA", Rules: []domain.Rule{b, c}},
		{Country: "MX", Rules: []domain.Rule{a, b, c}},
	})
	assert.Equal(t, []string{"a", "b", "c"}, names(ps))
	assert.Equal(t, []string{"US", "MX"}, ps[0].Countries)
	assert.Equal(t, []string{"CA", "MX"}, ps[1].Countries)
	assert.Equal(t, []string{"US", "CA", "MX"}, ps[2].Countries)
}

func TestMergeRulesEmpty(t *testing.T) {
	assert.Empty(t, domain.MergeRules(nil))
	assert.Empty(t, domain.MergeRules([]domain.CountryRules{{Country: "US"}}))
}

func TestMergeRulesWeightDistinguishesRules(t *testing.T) {
	heavy := rule("promo")
	heavy.Weight = 99
	ps := domain.MergeRules([]domain.CountryRules{
		{Country: "US", Rules: []domain.Rule{rule("promo")}},
		{Country: "GB", Rules: []domain.Rule{heavy}},
	})
	require.Len(t, ps, 2)
	for _, p := range ps {
		assert.Equal(t, 0, p.Suffix)
		assert.Len(t, p.Countries, 1)
	}
}

func TestMergeRulesProperties(t *testing.T) {
	pool := make([]domain.Rule, 6)
	for i := range pool {
		pool[i] = rule(fmt.Sprintf("r%d", i))
	}
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 300; iter++ {
		input := make([]domain.CountryRules, 1+rng.Intn(5))
		total := 0
		uses := map[string]int{}
		for i := range input {
			n := rng.Intn(5)
			rules := make([]domain.Rule, n)
			for j := range rules {
				rules[j] = pool[rng.Intn(len(pool))]
				uses[rules[j].Key()]++
			}
			total += n
			input[i] = domain.CountryRules{Country: fmt.Sprintf("C%d", i), Rules: rules}
		}

		ps := domain.MergeRules(input)
		assert.LessOrEqual(t, len(ps), total)
		for _, cr := range input {
			got := view(ps, cr.Country)
			want := keys(cr.Rules)
			if len(want) == 0 {
				assert.Empty(t, got, "iteration %d country %s", iter, cr.Country)
				continue
			}
			assert.Equal(t, want, got, "iteration %d country %s", iter, cr.Country)
		}
		for _, p := range ps {
			if uses[p.Rule.Key()] == 1 {
				assert.Equal(t, 0, p.Suffix, "iteration %d rule %s", iter, p.Rule.Name)
			}
			assert.NotEmpty(t, p.Countries)
		}
	}
}
