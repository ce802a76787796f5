// Package recovery tracks which Bitcoin outpoints have already been relayed
// as deposits and builds the standalone transactions that migrate deposits
// whose signatory set has expired onto the current one.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Fantasim/nbtcbridge/internal/checkpointtx"
	"github.com/Fantasim/nbtcbridge/internal/storage"
)

const outpointMapName = "recovery/outpoints"

type outpointEntry struct {
	Expiry uint64 `json:"expiry"`
}

// OutpointSet is the replay-protection map: once an outpoint has been
// inserted, relaying it again as a new deposit is rejected.
type OutpointSet struct {
	store storage.Store
}

// NewOutpointSet binds an OutpointSet to store.
func NewOutpointSet(store storage.Store) *OutpointSet {
	return &OutpointSet{store: store}
}

func outpointKey(p checkpointtx.Prevout) string {
	return fmt.Sprintf("%s:%d", p.TxID.String(), p.Vout)
}

func (o *OutpointSet) kvmap() storage.KVMap {
	return o.store.Map(outpointMapName)
}

// Has reports whether p has already been recorded.
func (o *OutpointSet) Has(ctx context.Context, p checkpointtx.Prevout) (bool, error) {
	return o.kvmap().Has(ctx, outpointKey(p))
}

// Insert records p with the given deposit expiry, failing with
// ErrAlreadyRelayed if it was already present.
func (o *OutpointSet) Insert(ctx context.Context, p checkpointtx.Prevout, expiry uint64) error {
	present, err := o.Has(ctx, p)
	if err != nil {
		return err
	}
	if present {
		return ErrAlreadyRelayed
	}
	return o.kvmap().Save(ctx, outpointKey(p), outpointEntry{Expiry: expiry})
}

// Expiry returns the deposit-expiry timestamp recorded for p, or false if
// it has not been inserted.
func (o *OutpointSet) Expiry(ctx context.Context, p checkpointtx.Prevout) (uint64, bool, error) {
	var e outpointEntry
	found, err := o.kvmap().Load(ctx, outpointKey(p), &e)
	if err != nil || !found {
		return 0, found, err
	}
	return e.Expiry, true, nil
}

// Prune removes entries whose deposit expiry has already passed, bounding
// storage: the replay-protection concern they served is superseded once
// the expired deposit has been rerouted through a Recovery Builder tx and
// re-relayed under a fresh sigset against a new outpoint.
func (o *OutpointSet) Prune(ctx context.Context, now uint64) error {
	var toRemove []string
	err := o.kvmap().Range(ctx, func(key string, raw []byte) error {
		var e outpointEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		if now > e.Expiry {
			toRemove = append(toRemove, key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range toRemove {
		if err := o.kvmap().Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
