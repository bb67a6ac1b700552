package fake

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

type Content struct {
	Faults
	mu      sync.Mutex
	entries map[collaborator.Env]map[string]collaborator.Entry
}

func NewContent() *Content {
	return &Content{entries: map[collaborator.Env]map[string]collaborator.Entry{}}
}

func cloneEntry(e collaborator.Entry) collaborator.Entry {
	e.Fields = maps.Clone(e.Fields)
	e.Environments = slices.Clone(e.Environments)
	return e
}

func (c *Content) put(env collaborator.Env, e collaborator.Entry) {
	if c.entries[env] == nil {
		c.entries[env] = map[string]collaborator.Entry{}
	}
	c.entries[env][e.ID] = cloneEntry(e)
}

func notFound(id string) error {
	return &remote.Error{Origin: remote.OriginContent, Message: "entry " + id, StatusCode: 404, Err: collaborator.ErrNotFound}
}

func (c *Content) CreateEntry(_ context.Context, env collaborator.Env, entry collaborator.Entry) (collaborator.Entry, error) {
	if err := c.hit("CreateEntry"); err != nil {
		return collaborator.Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[env][entry.ID]; ok && existing.State != collaborator.EntryArchived {
		return collaborator.Entry{}, remote.New(remote.OriginContent, "entry %s already exists", entry.ID)
	}
	entry.State = collaborator.EntryPublished
	entry.Environments = []collaborator.Env{env}
	c.put(env, entry)
	return cloneEntry(entry), nil
}

func (c *Content) UpdateEntry(_ context.Context, env collaborator.Env, entry collaborator.Entry) (collaborator.Entry, error) {
	if err := c.hit("UpdateEntry"); err != nil {
		return collaborator.Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.entries[env][entry.ID]
	if !ok {
		return collaborator.Entry{}, notFound(entry.ID)
	}
	existing.Fields = entry.Fields
	c.put(env, existing)
	return cloneEntry(existing), nil
}

func (c *Content) ArchiveEntry(_ context.Context, env collaborator.Env, id string) error {
	if err := c.hit("ArchiveEntry"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[env][id]; ok {
		e.State = collaborator.EntryArchived
		e.Environments = nil
		c.put(env, e)
	}
	return nil
}

func (c *Content) RestoreEntry(_ context.Context, env collaborator.Env, snapshot collaborator.Entry) error {
	if err := c.hit("RestoreEntry"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(env, snapshot)
	return nil
}

func (c *Content) FetchEntry(_ context.Context, env collaborator.Env, id string) (collaborator.Entry, error) {
	if err := c.hit("FetchEntry"); err != nil {
		return collaborator.Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[env][id]
	if !ok {
		return collaborator.Entry{}, notFound(id)
	}
	return cloneEntry(e), nil
}

// Entry 直接读取存储，不计入调用次数。
func (c *Content) Entry(env collaborator.Env, id string) (collaborator.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[env][id]
	return cloneEntry(e), ok
}

// Live 返回 env 中未归档的条目数。
func (c *Content) Live(env collaborator.Env) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries[env] {
		if e.State != collaborator.EntryArchived {
			n++
		}
	}
	return n
}
