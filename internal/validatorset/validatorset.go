// Package validatorset implements the validator-set oracle contract plus
// the declared-xpub registry, whitelist/punish admin bookkeeping, and
// offline-signer accounting that sit on top of it. A Registry satisfies
// internal/queue.ValidatorSource directly.
package validatorset

import (
	"context"
	"fmt"

	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/storage"
)

// OracleValidator is one entry returned by the external validator-set
// oracle's `get_validators()` call.
type OracleValidator struct {
	ConsensusKey [32]byte `json:"consensus_key"`
	VotingPower  uint64   `json:"voting_power"`
	OperatorAddr string   `json:"operator_addr"`
}

// Oracle is the validator-set oracle contract: an external collaborator,
// not implemented by this package beyond an in-memory stand-in for tests
// (see NewStaticOracle).
type Oracle interface {
	GetValidators(ctx context.Context) ([]OracleValidator, error)
}

// StaticOracle is a fixed-snapshot Oracle, useful for tests and for a node
// bootstrapped against a config-file validator list rather than a live
// staking module.
type StaticOracle struct {
	validators []OracleValidator
}

// NewStaticOracle returns an Oracle that always answers with validators.
func NewStaticOracle(validators []OracleValidator) *StaticOracle {
	return &StaticOracle{validators: validators}
}

func (s *StaticOracle) GetValidators(ctx context.Context) ([]OracleValidator, error) {
	return s.validators, nil
}

const (
	xpubMapName      = "validatorset/xpubs"
	whitelistMapName = "validatorset/whitelist"
	punishedMapName  = "validatorset/punished"
)

type xpubEntry struct {
	Xpub string `json:"xpub"`
}

// Registry combines a live Oracle with the declared-xpub registry
// (SetSignatoryKey), an optional whitelist (SetWhitelistValidator), and a
// punished set (PunishValidator), producing the candidate list
// internal/signatory.Build consumes. It satisfies internal/queue.
// ValidatorSource.
type Registry struct {
	oracle Oracle
	store  storage.Store
}

// NewRegistry binds a Registry to oracle and the store backing its
// declared-xpub, whitelist, and punished-validator tables.
func NewRegistry(oracle Oracle, store storage.Store) *Registry {
	return &Registry{oracle: oracle, store: store}
}

func (r *Registry) xpubs() storage.KVMap     { return r.store.Map(xpubMapName) }
func (r *Registry) whitelist() storage.KVMap { return r.store.Map(whitelistMapName) }
func (r *Registry) punished() storage.KVMap  { return r.store.Map(punishedMapName) }
func consensusKeyStr(k [32]byte) string      { return fmt.Sprintf("%x", k) }

// SetSignatoryKey declares xpub as consensusKey's signatory account key.
func (r *Registry) SetSignatoryKey(ctx context.Context, consensusKey [32]byte, xpub *signatory.Xpub) error {
	return r.xpubs().Save(ctx, consensusKeyStr(consensusKey), xpubEntry{Xpub: xpub.String()})
}

// SignatoryKey returns the xpub declared for consensusKey, if any.
func (r *Registry) SignatoryKey(ctx context.Context, consensusKey [32]byte) (*signatory.Xpub, bool, error) {
	var e xpubEntry
	found, err := r.xpubs().Load(ctx, consensusKeyStr(consensusKey), &e)
	if err != nil || !found {
		return nil, found, err
	}
	xpub, err := signatory.ParseXpub(e.Xpub)
	if err != nil {
		return nil, false, fmt.Errorf("parse declared xpub for %x: %w", consensusKey, err)
	}
	return xpub, true, nil
}

// SetWhitelistValidator toggles consensusKey's whitelist membership. While
// any validator is whitelisted, Candidates restricts the oracle snapshot to
// whitelisted validators only; an empty whitelist imposes no restriction.
func (r *Registry) SetWhitelistValidator(ctx context.Context, consensusKey [32]byte, whitelisted bool) error {
	if whitelisted {
		return r.whitelist().Save(ctx, consensusKeyStr(consensusKey), true)
	}
	return r.whitelist().Remove(ctx, consensusKeyStr(consensusKey))
}

func (r *Registry) isWhitelistEmpty(ctx context.Context) (bool, error) {
	empty := true
	err := r.whitelist().Range(ctx, func(key string, raw []byte) error {
		empty = false
		return nil
	})
	return empty, err
}

func (r *Registry) isWhitelisted(ctx context.Context, consensusKey [32]byte) (bool, error) {
	return r.whitelist().Has(ctx, consensusKeyStr(consensusKey))
}

// PunishValidator marks consensusKey as punished: it is excluded from every
// future Candidates snapshot (and so from PossibleVP/quorum accounting)
// until explicitly unpunished.
func (r *Registry) PunishValidator(ctx context.Context, consensusKey [32]byte, punished bool) error {
	if punished {
		return r.punished().Save(ctx, consensusKeyStr(consensusKey), true)
	}
	return r.punished().Remove(ctx, consensusKeyStr(consensusKey))
}

func (r *Registry) isPunished(ctx context.Context, consensusKey [32]byte) (bool, error) {
	return r.punished().Has(ctx, consensusKeyStr(consensusKey))
}

// Candidates builds the signatory.ValidatorCandidate list a new sigset is
// constructed from: every non-punished oracle validator,
// restricted to the whitelist when one is set, carrying its declared xpub
// (nil when undeclared — internal/signatory.Build still counts it toward
// PossibleVP but excludes it from the signing set).
func (r *Registry) Candidates(ctx context.Context) ([]signatory.ValidatorCandidate, error) {
	validators, err := r.oracle.GetValidators(ctx)
	if err != nil {
		return nil, fmt.Errorf("get validators: %w", err)
	}

	whitelistEmpty, err := r.isWhitelistEmpty(ctx)
	if err != nil {
		return nil, fmt.Errorf("check whitelist: %w", err)
	}

	candidates := make([]signatory.ValidatorCandidate, 0, len(validators))
	for _, v := range validators {
		punished, err := r.isPunished(ctx, v.ConsensusKey)
		if err != nil {
			return nil, fmt.Errorf("check punished status for %x: %w", v.ConsensusKey, err)
		}
		if punished {
			continue
		}
		if !whitelistEmpty {
			whitelisted, err := r.isWhitelisted(ctx, v.ConsensusKey)
			if err != nil {
				return nil, fmt.Errorf("check whitelist status for %x: %w", v.ConsensusKey, err)
			}
			if !whitelisted {
				continue
			}
		}

		xpub, _, err := r.SignatoryKey(ctx, v.ConsensusKey)
		if err != nil {
			return nil, fmt.Errorf("load declared xpub for %x: %w", v.ConsensusKey, err)
		}

		candidates = append(candidates, signatory.ValidatorCandidate{
			ConsensusKey: v.ConsensusKey,
			VotingPower:  v.VotingPower,
			Xpub:         xpub,
		})
	}
	return candidates, nil
}
