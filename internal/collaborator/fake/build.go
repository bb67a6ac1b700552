package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
)

type Build struct {
	Faults
	mu       sync.Mutex
	seq      int
	Requests []collaborator.BuildRequest
}

func (b *Build) TriggerBuild(_ context.Context, req collaborator.BuildRequest) (string, error) {
	if err := b.hit("TriggerBuild"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.Requests = append(b.Requests, req)
	return fmt.Sprintf("build-%d", b.seq), nil
}
