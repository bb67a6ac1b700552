package collaborator

import (
	"context"
	"slices"
)

type EntryState string

const (
	EntryDraft     EntryState = "draft"
	EntryPublished EntryState = "published"
	EntryArchived  EntryState = "archived"
)

// Entry 是内容服务中的一条 offer 文案。
type Entry struct {
	ID           string            `json:"id"`
	StoreCode    string            `json:"storeCode"`
	OfferCode    string            `json:"offerCode"`
	Fields       map[string]string `json:"fields"`
	State        EntryState        `json:"entryState"`
	Environments []Env             `json:"environments"`
}

// PublishedIn 报告条目是否已发布且带有 env 标签。
func (e Entry) PublishedIn(env Env) bool {
	return e.State == EntryPublished && slices.Contains(e.Environments, env)
}

// Content 是内容管理服务。CreateEntry 创建并发布条目。
type Content interface {
	CreateEntry(ctx context.Context, env Env, entry Entry) (Entry, error)
	UpdateEntry(ctx context.Context, env Env, entry Entry) (Entry, error)
	ArchiveEntry(ctx context.Context, env Env, id string) error
	RestoreEntry(ctx context.Context, env Env, snapshot Entry) error
	FetchEntry(ctx context.Context, env Env, id string) (Entry, error)
}
