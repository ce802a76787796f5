package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// esploraUTXO is the JSON shape of an Esplora scripthash/address UTXO
// listing entry.
type esploraUTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint32 `json:"block_height"`
	} `json:"status"`
	Value int64 `json:"value"`
}

// Candidate is a confirmed UTXO discovered against a watched deposit
// script, assembled into the exact shape Bitcoin.RelayDeposit needs
// (besides SigsetIndex/Dest, which the caller already knows — it is what
// asked the watcher to track this script in the first place).
type Candidate struct {
	TxID      string
	Vout      uint32
	BtcHeight uint32
	RawTx     []byte
	Proof     []byte
}

// DepositWatcher polls Esplora-compatible providers for confirmed UTXOs
// paid to a Building sigset's deposit scripts, the relayer-side half of
// the deposit relay flow. It only discovers candidates — SPV proof
// verification happens inside the bridge façade itself.
type DepositWatcher struct {
	pool *Pool

	mu   sync.Mutex
	seen map[string]struct{} // "txid:vout" already surfaced this process lifetime
}

// NewDepositWatcher binds a watcher to a provider pool.
func NewDepositWatcher(pool *Pool) *DepositWatcher {
	return &DepositWatcher{pool: pool, seen: make(map[string]struct{})}
}

// scriptHash reduces a P2WSH script to the reversed-byte-order sha256 hash
// Esplora's /scripthash endpoint expects (the Electrum scripthash
// convention: sha256(script), byte-reversed, hex-encoded).
func scriptHash(script []byte) string {
	sum := sha256.Sum256(script)
	reversed := make([]byte, len(sum))
	for i, b := range sum {
		reversed[len(sum)-1-i] = b
	}
	return hex.EncodeToString(reversed)
}

// Scan asks the provider pool (the first provider that answers) for
// confirmed UTXOs paid to script and
// assembles a Candidate for each one not already surfaced.
func (w *DepositWatcher) Scan(ctx context.Context, script []byte) ([]Candidate, error) {
	hash := scriptHash(script)

	var utxos []esploraUTXO
	err := w.pool.Do(ctx, func(ctx context.Context, client *http.Client, baseURL string) error {
		body, err := getRaw(ctx, client, baseURL+"/scripthash/"+hash+"/utxo")
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &utxos)
	})
	if err != nil {
		return nil, fmt.Errorf("relay: scan script %s: %w", hash, err)
	}

	var candidates []Candidate
	for _, u := range utxos {
		if !u.Status.Confirmed {
			continue
		}
		key := fmt.Sprintf("%s:%d", u.TxID, u.Vout)

		w.mu.Lock()
		_, already := w.seen[key]
		w.mu.Unlock()
		if already {
			continue
		}

		candidate, err := w.assembleCandidate(ctx, u)
		if err != nil {
			slog.Warn("relay: failed to assemble deposit candidate", "txid", u.TxID, "vout", u.Vout, "error", err)
			continue
		}

		w.mu.Lock()
		w.seen[key] = struct{}{}
		w.mu.Unlock()

		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

func (w *DepositWatcher) assembleCandidate(ctx context.Context, u esploraUTXO) (Candidate, error) {
	var rawTxHex string
	err := w.pool.Do(ctx, func(ctx context.Context, client *http.Client, baseURL string) error {
		body, err := getRaw(ctx, client, baseURL+"/tx/"+u.TxID+"/hex")
		if err != nil {
			return err
		}
		rawTxHex = string(body)
		return nil
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("fetch raw tx %s: %w", u.TxID, err)
	}

	rawTx, err := hex.DecodeString(strings.TrimSpace(rawTxHex))
	if err != nil {
		return Candidate{}, fmt.Errorf("decode raw tx %s: %w", u.TxID, err)
	}

	var proof []byte
	err = w.pool.Do(ctx, func(ctx context.Context, client *http.Client, baseURL string) error {
		body, err := getRaw(ctx, client, baseURL+"/tx/"+u.TxID+"/merkle-proof")
		if err != nil {
			return err
		}
		proof = body
		return nil
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("fetch merkle proof for %s: %w", u.TxID, err)
	}

	return Candidate{
		TxID:      u.TxID,
		Vout:      u.Vout,
		BtcHeight: u.Status.BlockHeight,
		RawTx:     rawTx,
		Proof:     proof,
	}, nil
}

func getRaw(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, string(body))
	}
	return body, nil
}
