// Package bridge implements the Bitcoin bridge façade: the entry points an off-chain relayer or the sidechain tick calls into,
// wiring together the checkpoint queue, the declared-xpub/validator
// registry, the recovery-transaction manager, and the two external
// collaborators (SPV light client, token sink) behind narrow interfaces.
package bridge

import (
	"context"

	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/queue"
	"github.com/Fantasim/nbtcbridge/internal/recovery"
	"github.com/Fantasim/nbtcbridge/internal/storage"
	"github.com/Fantasim/nbtcbridge/internal/validatorset"
)

// SPV is the Bitcoin light client the façade consumes: it
// answers header-height queries and verifies a transaction's inclusion
// proof. Header validation itself is out of scope for this core.
type SPV interface {
	HeaderHeight(ctx context.Context) (uint32, error)
	Network(ctx context.Context) (string, error)
	VerifyTxWithProof(ctx context.Context, btcTx []byte, btcHeight uint32, proof []byte) error
}

// TokenSink mints and burns the sidechain asset backed by the bridge's
// Bitcoin reserve. Denom registration is out of scope.
type TokenSink interface {
	Mint(ctx context.Context, denom string, to []byte, amount uint64) error
	Burn(ctx context.Context, denom string, amount uint64) error
}

const feePoolKey = "bridge/fee_pool"

// Bitcoin is the bridge façade: a stateless set of methods parametrized by
// the storage handed to New, favoring interior mutability over a
// shared in-memory model. Every method takes the ctx that scopes one
// entry-point invocation; there is no cross-call in-memory state beyond
// what Storage persists.
type Bitcoin struct {
	store        storage.Store
	checkpoints  *queue.Queue
	validators   *validatorset.Registry
	recoveryMgr  *recovery.Manager
	outpoints    *recovery.OutpointSet
	spv          SPV
	sink         TokenSink
	checkpointCfg config.CheckpointConfig
	btcCfg        config.BitcoinConfig
}

// New binds a Bitcoin façade to its storage and collaborators.
func New(store storage.Store, checkpointCfg config.CheckpointConfig, btcCfg config.BitcoinConfig, validators *validatorset.Registry, spv SPV, sink TokenSink) *Bitcoin {
	return &Bitcoin{
		store:         store,
		checkpoints:   queue.New(store, checkpointCfg, validators),
		validators:    validators,
		recoveryMgr:   recovery.NewManager(store),
		outpoints:     recovery.NewOutpointSet(store),
		spv:           spv,
		sink:          sink,
		checkpointCfg: checkpointCfg,
		btcCfg:        btcCfg,
	}
}

// Queue exposes the underlying checkpoint queue for callers (queries,
// tests) that need lower-level access than the façade entry points give.
func (b *Bitcoin) Queue() *queue.Queue { return b.checkpoints }

// Validators exposes the declared-xpub/whitelist/punish registry.
func (b *Bitcoin) Validators() *validatorset.Registry { return b.validators }

// RecoveryManager exposes the recovery-transaction manager.
func (b *Bitcoin) RecoveryManager() *recovery.Manager { return b.recoveryMgr }

// feePool is the persistent singleton accumulating the miner fees withheld
// from users across every relay_deposit/add_withdrawal, in sidechain units
// (sats × UnitsPerSat). It only ever increases through addFeePool on the
// deposit and withdrawal paths and decreases by the miner fee paid when a
// checkpoint advances to Signing.
func (b *Bitcoin) feePool(ctx context.Context) (int64, error) {
	var v int64
	_, err := b.store.Load(ctx, feePoolKey, &v)
	return v, err
}

func (b *Bitcoin) addFeePool(ctx context.Context, delta int64) error {
	v, err := b.feePool(ctx)
	if err != nil {
		return err
	}
	return b.store.Save(ctx, feePoolKey, v+delta)
}
