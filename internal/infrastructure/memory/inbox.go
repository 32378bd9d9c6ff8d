package memory

import (
	"context"
	"sync"
)

type Inbox struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewInbox() *Inbox {
	return &Inbox{seen: make(map[string]struct{})}
}

func (i *Inbox) SaveIfNotExists(_ context.Context, consumer, eventID, _, _ string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := consumer + "/" + eventID
	if _, ok := i.seen[key]; ok {
		return false, nil
	}
	i.seen[key] = struct{}{}
	return true, nil
}

func (i *Inbox) Exists(_ context.Context, consumer, eventID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[consumer+"/"+eventID]
	return ok, nil
}

// NoTx runs transactional callbacks directly. The memory stores are
// individually locked, which is enough for single-process use.
type NoTx struct{}

func (NoTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
