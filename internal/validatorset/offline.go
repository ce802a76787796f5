package validatorset

import (
	"sort"

	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
)

// OfflineSigners identifies validators that failed to sign every one of the
// last maxOfflineCheckpoints completed checkpoints, mirroring the original
// contract's offline_signers walk: only validators whose voting power is at
// least the active sigset's lowest signatory are considered (a validator
// too small to have ever made the signing set can't be faulted for not
// signing), and the window only evaluates once maxOfflineCheckpoints
// completed checkpoints actually exist.
//
// completed must be ordered oldest-first, as internal/queue.Queue.Completed
// returns it; validators must be the oracle snapshot sorted by nothing in
// particular (this function sorts its own copy).
func OfflineSigners(validators []OracleValidator, declaredXpub func(consensusKey [32]byte) (*signatory.Xpub, bool), activeSigset *signatory.SignatorySet, completed []*checkpoint.Checkpoint, maxOfflineCheckpoints int) ([][32]byte, error) {
	if len(completed) < maxOfflineCheckpoints || maxOfflineCheckpoints <= 0 {
		return nil, nil
	}
	if len(activeSigset.Signatories) == 0 {
		return nil, nil
	}
	lowestPower := activeSigset.Signatories[len(activeSigset.Signatories)-1].VotingPower

	window := completed
	if len(window) > maxOfflineCheckpoints {
		window = window[len(window)-maxOfflineCheckpoints:]
	}

	sorted := make([]OracleValidator, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VotingPower > sorted[j].VotingPower })

	var offline [][32]byte
	for _, v := range sorted {
		if v.VotingPower < lowestPower {
			break
		}

		xpub, ok := declaredXpub(v.ConsensusKey)
		if !ok {
			continue
		}

		isOffline := true
		for i := len(window) - 1; i >= 0; i-- {
			needsSig, err := window[i].NeedsSig(xpub)
			if err != nil {
				return nil, err
			}
			if !needsSig {
				isOffline = false
				break
			}
		}
		if isOffline {
			offline = append(offline, v.ConsensusKey)
		}
	}
	return offline, nil
}
