package daemon

import (
	"context"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/refstore"
)

// syncedCreator is the provider handed to the REST and gRPC servers. Records
// created through them are put into the shared store, so a lookup that was
// recorded as missing resolves for live sessions without a restart.
type syncedCreator struct {
	dataprovider.Provider
	creator dataprovider.Creator
	store   *refstore.Store
}

func (p syncedCreator) Create(ctx context.Context, resource string, data choice.Choice) (choice.Choice, error) {
	rec, err := p.creator.Create(ctx, resource, data)
	if err != nil {
		return nil, err
	}
	p.store.Put(resource, rec)
	return rec, nil
}

// syncProvider wraps provider when it can create records. Read-only
// providers are returned as they are.
func syncProvider(provider dataprovider.Provider, store *refstore.Store) dataprovider.Provider {
	creator, ok := provider.(dataprovider.Creator)
	if !ok {
		return provider
	}
	return syncedCreator{Provider: provider, creator: creator, store: store}
}
