// internal/service/offer/domain/history.go
package domain

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
)

type HistoryAction string

const (
	ActionCreated   HistoryAction = "created"
	ActionUpdated   HistoryAction = "updated"
	ActionRetired   HistoryAction = "retired"
	ActionValidated HistoryAction = "validated"
)

// FieldChange 是一次更新中的单个字段差异。
type FieldChange struct {
	Field string `json:"field"`
	From  any    `json:"from,omitempty"`
	To    any    `json:"to,omitempty"`
}

// History 是只追加的审计记录。
type History struct {
	StoreCode string           `json:"storeCode"`
	OfferCode string           `json:"offerCode"`
	Action    HistoryAction    `json:"action"`
	Status    Status           `json:"statusId"`
	Env       collaborator.Env `json:"env"`
	Changes   []FieldChange    `json:"changes,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Diff 按 JSON 字段比较两个载荷，忽略 errMessage，结果按字段名排序。
func Diff(before, after DraftData) []FieldChange {
	a, b := toMap(before), toMap(after)
	delete(a, "errMessage")
	delete(b, "errMessage")

	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	var out []FieldChange
	for k := range keys {
		if !reflect.DeepEqual(a[k], b[k]) {
			out = append(out, FieldChange{Field: k, From: a[k], To: b[k]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func toMap(d DraftData) map[string]any {
	raw, _ := json.Marshal(d)
	m := map[string]any{}
	_ = json.Unmarshal(raw, &m)
	return m
}
