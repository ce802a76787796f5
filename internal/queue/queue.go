// Package queue drives the checkpoint lifecycle across sidechain blocks: it
// holds the ordered, possibly-pruned sequence of checkpoints, decides when
// to push a new one and advance the current Building checkpoint to Signing,
// and adjusts the fee rate based on how quickly past checkpoints confirmed.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
	"github.com/Fantasim/nbtcbridge/internal/checkpointtx"
	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/storage"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

const (
	keyBuildingIndex                = "queue/building_index"
	keyConfirmedIndex               = "queue/confirmed_index"
	keyFirstUnhandledConfirmedIndex = "queue/first_unhandled_confirmed_index"
	checkpointsDequeName            = "queue/checkpoints"
)

// ValidatorSource is the validator-set oracle a Queue builds new signatory
// sets against. An implementation in internal/validatorset reads this from
// the sidechain's live staking state.
type ValidatorSource interface {
	Candidates(ctx context.Context) ([]signatory.ValidatorCandidate, error)
}

// Queue is the checkpoint state machine: persisted sequence of checkpoints
// plus the config and validator oracle that drive should_push/maybe_step.
type Queue struct {
	store      storage.Store
	cfg        config.CheckpointConfig
	validators ValidatorSource
}

// New builds a Queue bound to store, cfg and the validator oracle.
func New(store storage.Store, cfg config.CheckpointConfig, validators ValidatorSource) *Queue {
	return &Queue{store: store, cfg: cfg, validators: validators}
}

// IndexedCheckpoint pairs a checkpoint with its logical (possibly-pruned)
// queue index.
type IndexedCheckpoint struct {
	Index      uint32
	Checkpoint *checkpoint.Checkpoint
}

func (q *Queue) deque() storage.Deque {
	return q.store.Deque(checkpointsDequeName)
}

// Index is the logical index of the Building checkpoint (the network's
// most recently pushed checkpoint).
func (q *Queue) Index(ctx context.Context) (uint32, error) {
	var idx uint32
	ok, err := q.store.Load(ctx, keyBuildingIndex, &idx)
	if err != nil {
		return 0, fmt.Errorf("load building index: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return idx, nil
}

func (q *Queue) setIndex(ctx context.Context, idx uint32) error {
	if err := q.store.Save(ctx, keyBuildingIndex, idx); err != nil {
		return fmt.Errorf("save building index: %w", err)
	}
	return nil
}

// FirstUnhandledConfirmedIndex is the index of the oldest confirmed
// checkpoint whose pending credits have not yet been drained.
func (q *Queue) FirstUnhandledConfirmedIndex(ctx context.Context) (uint32, error) {
	var idx uint32
	ok, err := q.store.Load(ctx, keyFirstUnhandledConfirmedIndex, &idx)
	if err != nil {
		return 0, fmt.Errorf("load first unhandled confirmed index: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return idx, nil
}

// SetFirstUnhandledConfirmedIndex advances the unhandled-confirmed cursor,
// called once a confirmed checkpoint's pending credits have been applied.
func (q *Queue) SetFirstUnhandledConfirmedIndex(ctx context.Context, idx uint32) error {
	if err := q.store.Save(ctx, keyFirstUnhandledConfirmedIndex, idx); err != nil {
		return fmt.Errorf("save first unhandled confirmed index: %w", err)
	}
	return nil
}

// ConfirmedIndex is the index of the most recently SPV-confirmed
// checkpoint, or nil if none has confirmed yet.
func (q *Queue) ConfirmedIndex(ctx context.Context) (*uint32, error) {
	var idx uint32
	ok, err := q.store.Load(ctx, keyConfirmedIndex, &idx)
	if err != nil {
		return nil, fmt.Errorf("load confirmed index: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &idx, nil
}

// SetConfirmedIndex records that the checkpoint at idx has confirmed on
// Bitcoin.
func (q *Queue) SetConfirmedIndex(ctx context.Context, idx uint32) error {
	if err := q.store.Save(ctx, keyConfirmedIndex, idx); err != nil {
		return fmt.Errorf("save confirmed index: %w", err)
	}
	return nil
}

// Reset removes every checkpoint from the queue and resets its indexes to
// zero, used only by test/devnet bootstrapping.
func (q *Queue) Reset(ctx context.Context) error {
	if err := q.setIndex(ctx, 0); err != nil {
		return err
	}
	if err := q.store.Remove(ctx, keyFirstUnhandledConfirmedIndex); err != nil {
		return err
	}
	if err := q.store.Remove(ctx, keyConfirmedIndex); err != nil {
		return err
	}
	dq := q.deque()
	for {
		n, err := dq.Len(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := dq.PopBack(ctx, nil); err != nil {
			return err
		}
	}
}

// dequeIndex converts a logical checkpoint index into the 0-based deque
// position it currently occupies, erroring if the index has been pruned or
// does not exist yet.
func (q *Queue) dequeIndex(ctx context.Context, index uint32, queueLen int) (int, error) {
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return 0, err
	}
	start := int64(buildingIndex) + 1 - int64(queueLen)
	if int64(index) > int64(buildingIndex) || int64(index) < start {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfBounds, index)
	}
	return int(int64(index) - start), nil
}

// Get returns the checkpoint at the given logical index.
func (q *Queue) Get(ctx context.Context, index uint32) (*checkpoint.Checkpoint, error) {
	queueLen, err := q.Len(ctx)
	if err != nil {
		return nil, err
	}
	local, err := q.dequeIndex(ctx, index, queueLen)
	if err != nil {
		return nil, err
	}
	var cp checkpoint.Checkpoint
	found, err := q.deque().Get(ctx, local, &cp)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfBounds, index)
	}
	return &cp, nil
}

// Set overwrites the checkpoint at the given logical index.
func (q *Queue) Set(ctx context.Context, index uint32, cp *checkpoint.Checkpoint) error {
	queueLen, err := q.Len(ctx)
	if err != nil {
		return err
	}
	local, err := q.dequeIndex(ctx, index, queueLen)
	if err != nil {
		return err
	}
	return q.deque().Set(ctx, local, cp)
}

// Len is the number of checkpoints currently retained in the queue.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.deque().Len(ctx)
}

// IsEmpty reports whether the queue has never had a checkpoint pushed.
func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	n, err := q.Len(ctx)
	return n == 0, err
}

// All returns every retained checkpoint, oldest first, with its logical
// index.
func (q *Queue) All(ctx context.Context) ([]IndexedCheckpoint, error) {
	queueLen, err := q.Len(ctx)
	if err != nil {
		return nil, err
	}
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]IndexedCheckpoint, 0, queueLen)
	for i := 0; i < queueLen; i++ {
		var cp checkpoint.Checkpoint
		if _, err := q.deque().Get(ctx, i, &cp); err != nil {
			return nil, err
		}
		idx := uint32(int64(buildingIndex) + 1 - int64(queueLen-i))
		out = append(out, IndexedCheckpoint{Index: idx, Checkpoint: &cp})
	}
	return out, nil
}

// FirstIndex is the logical index of the oldest retained checkpoint.
func (q *Queue) FirstIndex(ctx context.Context) (uint32, error) {
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return 0, err
	}
	length, err := q.Len(ctx)
	if err != nil {
		return 0, err
	}
	return buildingIndex + 1 - uint32(length), nil
}

// Signing returns the checkpoint in the Signing status, or nil if there is
// none (there is at most one at a time).
func (q *Queue) Signing(ctx context.Context) (*checkpoint.Checkpoint, error) {
	length, err := q.Len(ctx)
	if err != nil {
		return nil, err
	}
	if length < 2 {
		return nil, nil
	}
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return nil, err
	}
	cp, err := q.Get(ctx, buildingIndex-1)
	if err != nil {
		return nil, err
	}
	if cp.Status != checkpoint.StatusSigning {
		return nil, nil
	}
	return cp, nil
}

// Building returns the checkpoint currently accumulating deposits and
// withdrawals.
func (q *Queue) Building(ctx context.Context) (*checkpoint.Checkpoint, error) {
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return nil, err
	}
	cp, err := q.Get(ctx, buildingIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBuildingCheckpoint, err)
	}
	return cp, nil
}

// Completed returns up to limit completed checkpoints, oldest first,
// skipping the Building checkpoint (and the Signing one, if present).
func (q *Queue) Completed(ctx context.Context, limit int) ([]*checkpoint.Checkpoint, error) {
	length, err := q.Len(ctx)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	signingCp, err := q.Signing(ctx)
	if err != nil {
		return nil, err
	}
	skip := 1
	if signingCp != nil {
		skip = 2
	}
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return nil, err
	}
	end := int64(buildingIndex) - int64(skip-1)
	if end < 0 {
		end = 0
	}
	maxCount := limit
	if avail := length - skip; avail < maxCount {
		maxCount = avail
	}
	if maxCount < 0 {
		maxCount = 0
	}
	start := end - int64(maxCount)
	if start < 0 {
		start = 0
	}

	out := make([]*checkpoint.Checkpoint, 0, end-start)
	for i := start; i < end; i++ {
		cp, err := q.Get(ctx, uint32(i))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// LastCompletedIndex is the logical index of the most recently completed
// checkpoint.
func (q *Queue) LastCompletedIndex(ctx context.Context) (uint32, error) {
	signingCp, err := q.Signing(ctx)
	if err != nil {
		return 0, err
	}
	sub := uint32(1)
	if signingCp != nil {
		sub = 2
	}
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return 0, err
	}
	if buildingIndex < sub {
		return 0, ErrNoCompletedCheckpoints
	}
	return buildingIndex - sub, nil
}

// LastCompleted returns the most recently completed checkpoint.
func (q *Queue) LastCompleted(ctx context.Context) (*checkpoint.Checkpoint, error) {
	idx, err := q.LastCompletedIndex(ctx)
	if err != nil {
		return nil, err
	}
	return q.Get(ctx, idx)
}

// ActiveSigset is the signatory set securing the Building checkpoint.
func (q *Queue) ActiveSigset(ctx context.Context) (*signatory.SignatorySet, error) {
	building, err := q.Building(ctx)
	if err != nil {
		return nil, err
	}
	return building.Sigset, nil
}

// Sigset is the signatory set that secured the checkpoint at index.
func (q *Queue) Sigset(ctx context.Context, index uint32) (*signatory.SignatorySet, error) {
	cp, err := q.Get(ctx, index)
	if err != nil {
		return nil, err
	}
	return cp.Sigset, nil
}

// NumUnconfirmed is the number of completed checkpoints not yet confirmed
// on Bitcoin.
func (q *Queue) NumUnconfirmed(ctx context.Context) (int, error) {
	signingCp, err := q.Signing(ctx)
	if err != nil {
		return 0, err
	}
	signingOffset := 0
	if signingCp != nil {
		signingOffset = 1
	}
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return 0, err
	}
	if int64(buildingIndex)-int64(1+signingOffset) < 0 {
		return 0, nil
	}
	lastCompletedIndex := buildingIndex - uint32(1+signingOffset)

	confirmedIndex, err := q.ConfirmedIndex(ctx)
	if err != nil {
		return 0, err
	}
	if confirmedIndex == nil {
		length, err := q.Len(ctx)
		if err != nil {
			return 0, err
		}
		return length - 1 - signingOffset, nil
	}
	return int(lastCompletedIndex) - int(*confirmedIndex), nil
}

// FirstUnconfirmedIndex is the logical index of the oldest completed,
// not-yet-confirmed checkpoint, or nil if none are unconfirmed.
func (q *Queue) FirstUnconfirmedIndex(ctx context.Context) (*uint32, error) {
	numUnconf, err := q.NumUnconfirmed(ctx)
	if err != nil {
		return nil, err
	}
	if numUnconf == 0 {
		return nil, nil
	}
	signingCp, err := q.Signing(ctx)
	if err != nil {
		return nil, err
	}
	signingOffset := 0
	if signingCp != nil {
		signingOffset = 1
	}
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return nil, err
	}
	idx := buildingIndex - uint32(numUnconf) - uint32(signingOffset)
	return &idx, nil
}

// Unconfirmed returns every completed-but-unconfirmed checkpoint, oldest
// first.
func (q *Queue) Unconfirmed(ctx context.Context) ([]*checkpoint.Checkpoint, error) {
	firstUnconf, err := q.FirstUnconfirmedIndex(ctx)
	if err != nil {
		return nil, err
	}
	if firstUnconf == nil {
		return nil, nil
	}
	buildingIndex, err := q.Index(ctx)
	if err != nil {
		return nil, err
	}
	var out []*checkpoint.Checkpoint
	for i := *firstUnconf; i <= buildingIndex; i++ {
		cp, err := q.Get(ctx, i)
		if err != nil {
			return nil, err
		}
		if cp.Status != checkpoint.StatusComplete {
			break
		}
		out = append(out, cp)
	}
	return out, nil
}

// UnhandledConfirmed returns the logical indexes of confirmed checkpoints
// whose pending credits have not yet been applied.
func (q *Queue) UnhandledConfirmed(ctx context.Context) ([]uint32, error) {
	confirmedIndex, err := q.ConfirmedIndex(ctx)
	if err != nil {
		return nil, err
	}
	if confirmedIndex == nil {
		return nil, nil
	}
	firstUnhandled, err := q.FirstUnhandledConfirmedIndex(ctx)
	if err != nil {
		return nil, err
	}
	var out []uint32
	for i := firstUnhandled; i <= *confirmedIndex; i++ {
		cp, err := q.Get(ctx, i)
		if err != nil {
			return nil, err
		}
		if cp.Status != checkpoint.StatusComplete {
			break
		}
		out = append(out, i)
	}
	return out, nil
}

// UnconfirmedFeesPaid is the total miner fee actually paid across every
// unconfirmed checkpoint's tx.
func (q *Queue) UnconfirmedFeesPaid(ctx context.Context) (uint64, error) {
	unconf, err := q.Unconfirmed(ctx)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, cp := range unconf {
		total += cp.TxMinerFees()
	}
	return total, nil
}

// UnconfirmedVbytes is the total estimated vsize across every unconfirmed
// checkpoint's tx, used to budget the next checkpoint's fee adjustment.
func (q *Queue) UnconfirmedVbytes(ctx context.Context, commitment []byte) (uint64, error) {
	unconf, err := q.Unconfirmed(ctx)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, cp := range unconf {
		vsize, err := cp.EstVsize(commitment, q.cfg.MaxInputs, q.cfg.MaxOutputs, config.ScriptIntBits, q.cfg.SigsetThresholdNum, q.cfg.SigsetThresholdDen)
		if err != nil {
			return 0, err
		}
		total += vsize
	}
	return total, nil
}

func (q *Queue) feeAdjustment(ctx context.Context, feeRate uint64, commitment []byte) (uint64, error) {
	unconfFeesPaid, err := q.UnconfirmedFeesPaid(ctx)
	if err != nil {
		return 0, err
	}
	unconfVbytes, err := q.UnconfirmedVbytes(ctx, commitment)
	if err != nil {
		return 0, err
	}
	return checkpointtx.FeeAdjustment(unconfVbytes, feeRate, unconfFeesPaid), nil
}

// CalcFeeCheckpoint is the total miner fee the checkpoint at cpIndex must
// collect before being allowed to advance: its own estimated base fee plus
// the backlog adjustment for unconfirmed predecessors.
func (q *Queue) CalcFeeCheckpoint(ctx context.Context, cpIndex uint32, commitment []byte) (uint64, error) {
	cp, err := q.Get(ctx, cpIndex)
	if err != nil {
		return 0, err
	}
	additional, err := q.feeAdjustment(ctx, cp.FeeRate, commitment)
	if err != nil {
		return 0, err
	}
	vsize, err := cp.EstVsize(commitment, q.cfg.MaxInputs, q.cfg.MaxOutputs, config.ScriptIntBits, q.cfg.SigsetThresholdNum, q.cfg.SigsetThresholdDen)
	if err != nil {
		return 0, err
	}
	return vsize*cp.FeeRate + additional, nil
}

// ShouldPush reports whether maybe_step should push a new Building
// checkpoint and advance the current one.
func (q *Queue) ShouldPush(ctx context.Context, commitment []byte, btcHeight uint32, nowUnixSeconds uint64) (bool, error) {
	signingCp, err := q.Signing(ctx)
	if err != nil {
		return false, err
	}
	if signingCp != nil {
		return false, nil
	}

	empty, err := q.IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	if !empty {
		building, err := q.Building(ctx)
		if err != nil {
			return false, err
		}
		elapsed := nowUnixSeconds - building.Sigset.CreateTime

		if elapsed < uint64(q.cfg.MinCheckpointInterval.Seconds()) {
			return false, nil
		}

		buildingIndex, err := q.Index(ctx)
		if err != nil {
			return false, err
		}

		if lastCompletedIndex, err := q.LastCompletedIndex(ctx); err == nil {
			lastCompleted, err := q.Get(ctx, lastCompletedIndex)
			if err != nil {
				return false, err
			}
			var lastSignedHeight uint32
			if lastCompleted.SignedAtBtcHeight != nil {
				lastSignedHeight = *lastCompleted.SignedAtBtcHeight
			}
			if btcHeight < lastSignedHeight {
				return false, nil
			}
		} else if !errors.Is(err, ErrNoCompletedCheckpoints) {
			return false, err
		}

		cpMinerFees, err := q.CalcFeeCheckpoint(ctx, buildingIndex, commitment)
		if err != nil {
			return false, err
		}

		if elapsed < uint64(q.cfg.MaxCheckpointInterval.Seconds()) || buildingIndex == 0 {
			tx := building.Tx()
			var hasPendingDeposit bool
			if buildingIndex == 0 {
				hasPendingDeposit = len(tx.Inputs) != 0
			} else {
				hasPendingDeposit = len(tx.Inputs) > 1
			}
			hasPendingWithdrawal := len(tx.Outputs) != 0
			hasPendingTransfers := len(building.Pending) != 0

			if !hasPendingDeposit && !hasPendingWithdrawal && !hasPendingTransfers {
				return false, nil
			}
			if building.FeesCollected < cpMinerFees {
				return false, nil
			}
		}

		var inAmount, outAmount uint64
		for _, in := range building.Tx().Inputs {
			inAmount += in.Amount
		}
		for _, out := range building.Tx().Outputs {
			outAmount += out.Value
		}
		if inAmount < outAmount+cpMinerFees {
			return false, nil
		}
	}

	unconfs, err := q.NumUnconfirmed(ctx)
	if err != nil {
		return false, err
	}
	if unconfs >= q.cfg.MaxUnconfirmedCheckpoints {
		return false, nil
	}

	index, err := q.Index(ctx)
	if err != nil {
		return false, err
	}
	if !empty {
		index++
	}

	candidates, err := q.validators.Candidates(ctx)
	if err != nil {
		return false, err
	}
	_, err = signatory.Build(candidates, index, nowUnixSeconds, config.MaxSignatories)
	if err != nil {
		if errors.Is(err, signatory.ErrEmptyValidatorSet) || errors.Is(err, signatory.ErrNoQuorum) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// MaybePush pushes a new Building checkpoint if the current validator
// snapshot has quorum, returning the new checkpoint or nil if it declined.
func (q *Queue) MaybePush(ctx context.Context, nowUnixSeconds uint64, depositsEnabled bool) (*checkpoint.Checkpoint, error) {
	empty, err := q.IsEmpty(ctx)
	if err != nil {
		return nil, err
	}
	index, err := q.Index(ctx)
	if err != nil {
		return nil, err
	}
	if !empty {
		index++
	}

	candidates, err := q.validators.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	sigset, err := signatory.Build(candidates, index, nowUnixSeconds, config.MaxSignatories)
	if err != nil {
		if errors.Is(err, signatory.ErrEmptyValidatorSet) || errors.Is(err, signatory.ErrNoQuorum) {
			return nil, nil
		}
		return nil, err
	}

	if err := q.setIndex(ctx, index); err != nil {
		return nil, err
	}
	cp := checkpoint.New(sigset, config.DefaultFeeRate)
	cp.DepositsEnabled = depositsEnabled
	if err := q.deque().PushBack(ctx, cp); err != nil {
		return nil, err
	}
	if err := q.Set(ctx, index, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Prune drops checkpoints older than the configured max age, retaining a
// minimum of 10 in the queue regardless of age.
func (q *Queue) Prune(ctx context.Context) error {
	const minRetained = 10

	building, err := q.Building(ctx)
	if err != nil {
		return err
	}
	latest := building.Sigset.CreateTime

	for {
		queueLen, err := q.Len(ctx)
		if err != nil {
			return err
		}
		if queueLen <= minRetained {
			return nil
		}
		var oldest checkpoint.Checkpoint
		found, err := q.deque().Front(ctx, &oldest)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if latest-oldest.Sigset.CreateTime <= uint64(q.cfg.MaxAge.Seconds()) {
			return nil
		}
		if err := q.deque().PopFront(ctx, nil); err != nil {
			return err
		}
	}
}

// MaybeStep advances the checkpoint queue state machine for one sidechain
// block: pushes a new Building checkpoint and advances the old one to
// Signing if ShouldPush allows it, prunes old checkpoints, and adjusts the
// fee rate based on how quickly past checkpoints confirmed. Returns true if
// a checkpoint was pushed and advanced, along with the miner fee (in sats)
// the advanced checkpoint paid, so callers can deduct it from their fee
// pool; the fee is zero unless a checkpoint was actually advanced.
func (q *Queue) MaybeStep(ctx context.Context, btcHeight uint32, shouldAllowDeposits bool, commitment []byte, nowUnixSeconds uint64) (bool, uint64, error) {
	shouldPush, err := q.ShouldPush(ctx, commitment, btcHeight, nowUnixSeconds)
	if err != nil {
		return false, 0, err
	}
	if !shouldPush {
		return false, 0, nil
	}

	pushed, err := q.MaybePush(ctx, nowUnixSeconds, shouldAllowDeposits)
	if err != nil {
		return false, 0, err
	}
	if pushed == nil {
		return false, 0, nil
	}

	if err := q.Prune(ctx); err != nil {
		return false, 0, err
	}

	index, err := q.Index(ctx)
	if err != nil {
		return false, 0, err
	}
	if index == 0 {
		return true, 0, nil
	}

	prevIndex := index - 1
	cpFees, err := q.CalcFeeCheckpoint(ctx, prevIndex, commitment)
	if err != nil {
		return false, 0, err
	}

	prev, err := q.Get(ctx, prevIndex)
	if err != nil {
		return false, 0, err
	}
	sigset := prev.Sigset
	prevFeeRate := prev.FeeRate

	res, err := prev.Advance(commitment, cpFees, q.cfg.MaxInputs, q.cfg.MaxOutputs, config.ScriptIntBits, q.cfg.SigsetThresholdNum, q.cfg.SigsetThresholdDen)
	if err != nil {
		return false, 0, err
	}
	if err := q.Set(ctx, prevIndex, prev); err != nil {
		return false, 0, err
	}

	feeRate, err := q.nextFeeRate(ctx, btcHeight, prevFeeRate)
	if err != nil {
		return false, 0, err
	}

	building, err := q.Building(ctx)
	if err != nil {
		return false, 0, err
	}
	building.FeeRate = feeRate

	thresholdVP := sigset.Threshold(q.cfg.SigsetThresholdNum, q.cfg.SigsetThresholdDen)
	reserveDest := []byte{0}
	redeemScript, err := sigset.RedeemScript(reserveDest, thresholdVP, config.ScriptIntBits)
	if err != nil {
		return false, 0, fmt.Errorf("build reserve input redeem script: %w", err)
	}
	scriptPubkey, err := sigset.OutputScript(reserveDest, thresholdVP, config.ScriptIntBits)
	if err != nil {
		return false, 0, fmt.Errorf("build reserve input script pubkey: %w", err)
	}
	reserveInput := &checkpointtx.Input{
		Prevout:         res.ReserveOutpoint,
		ScriptPubkey:    scriptPubkey,
		RedeemScript:    redeemScript,
		SigsetIndex:     sigset.Index,
		Amount:          res.ReserveValue,
		Dest:            reserveDest,
		Signatures:      threshold.New(sigset.ToThresholdSignatories(), sigset.PresentVP, q.cfg.SigsetThresholdNum, q.cfg.SigsetThresholdDen),
		EstWitnessVsize: sigset.EstWitnessVsize(),
	}
	if err := building.AddReserveInput(reserveInput); err != nil {
		return false, 0, err
	}
	building.AddCarriedOver(res.ExcessInputs, res.ExcessOutputs)

	if err := q.Set(ctx, index, building); err != nil {
		return false, 0, err
	}

	return true, cpFees, nil
}

// nextFeeRate adjusts the previous checkpoint's fee rate based on whether
// unconfirmed checkpoints have been waiting longer than the target
// inclusion window.
func (q *Queue) nextFeeRate(ctx context.Context, btcHeight uint32, prevFeeRate uint64) (uint64, error) {
	firstUnconfIndex, err := q.FirstUnconfirmedIndex(ctx)
	if err != nil {
		return 0, err
	}
	if firstUnconfIndex != nil {
		firstUnconf, err := q.Get(ctx, *firstUnconfIndex)
		if err != nil {
			return 0, err
		}
		var firstSignedHeight uint32
		if firstUnconf.SignedAtBtcHeight != nil {
			firstSignedHeight = *firstUnconf.SignedAtBtcHeight
		}
		btcBlocksSinceFirst := btcHeight - firstSignedHeight
		minersExcludedCps := btcBlocksSinceFirst >= q.cfg.TargetCheckpointInclusion

		lastCompletedIndex, err := q.LastCompletedIndex(ctx)
		if err != nil {
			return 0, err
		}
		lastCompleted, err := q.Get(ctx, lastCompletedIndex)
		if err != nil {
			return 0, err
		}
		var lastSignedHeight uint32
		if lastCompleted.SignedAtBtcHeight != nil {
			lastSignedHeight = *lastCompleted.SignedAtBtcHeight
		}
		blockWasMined := btcHeight-lastSignedHeight > 0

		if minersExcludedCps && blockWasMined {
			return checkpointtx.AdjustUp(prevFeeRate, q.cfg.MinFeeRate, q.cfg.MaxFeeRate), nil
		}
		return prevFeeRate, nil
	}

	if _, err := q.LastCompletedIndex(ctx); err == nil {
		return checkpointtx.AdjustDown(prevFeeRate, q.cfg.MinFeeRate, q.cfg.MaxFeeRate), nil
	} else if !errors.Is(err, ErrNoCompletedCheckpoints) {
		return 0, err
	}
	return prevFeeRate, nil
}

// Sign applies a signatory's signatures to the checkpoint at index,
// advancing it to Complete if this batch finishes it. Signing an already
// Complete checkpoint is allowed (over-signing).
func (q *Queue) Sign(ctx context.Context, pubkey threshold.Pubkey, sigs []threshold.Sig, index uint32, btcHeight uint32) error {
	cp, err := q.Get(ctx, index)
	if err != nil {
		return err
	}
	if cp.Status == checkpoint.StatusBuilding {
		return fmt.Errorf("%w: sign", checkpoint.ErrNotSigning)
	}
	if err := cp.Sign(pubkey, sigs, btcHeight); err != nil {
		return err
	}
	return q.Set(ctx, index, cp)
}
