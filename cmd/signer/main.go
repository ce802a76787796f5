// Command signer is a validator's offline/online signing process: it
// derives the validator's signatory key from a mnemonic file, declares its
// xpub, then polls a running node for signing work and submits signatures
// via the SubmitCheckpointSignature / SubmitRecoverySignature flow.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/logging"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/signerkey"
	"github.com/Fantasim/nbtcbridge/internal/spv"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

func main() {
	if err := run(); err != nil {
		slog.Error("signer error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	pollInterval := flag.Duration("poll-interval", 15*time.Second, "how often to poll the node for signing work")
	consensusKeyHex := flag.String("consensus-key", "", "this validator's 32-byte hex-encoded consensus key")
	flag.Parse()

	var consensusKey [32]byte
	if *consensusKeyHex == "" {
		return fmt.Errorf("--consensus-key is required")
	}
	raw, err := hex.DecodeString(*consensusKeyHex)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("--consensus-key must be 32 bytes hex-encoded")
	}
	copy(consensusKey[:], raw)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.SetupWithPrefix(cfg.LogLevel, cfg.LogDir, "signer-%s-%s.log", "signer-")
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	if cfg.MnemonicFile == "" {
		return fmt.Errorf("BRIDGE_MNEMONIC_FILE is required")
	}

	signer := signerkey.New(cfg.MnemonicFile, cfg.Network)
	xpub, err := signer.Xpub()
	if err != nil {
		return fmt.Errorf("derive signatory xpub: %w", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	node := &signerNodeClient{baseURL: cfg.NodeAPIURL, client: httpClient}
	btcPool := spv.NewPoolFromURLs(cfg.EsploraURLs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := node.declareSignatoryKey(ctx, consensusKey, xpub); err != nil {
		slog.Warn("failed to declare signatory key (will retry on next tick)", "error", err)
	} else {
		slog.Info("signatory key declared", "xpub", xpub.String())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		slog.Info("signer shutting down")
		cancel()
	}()

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()

	for {
		tickSigner(ctx, signer, xpub, node, btcPool)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func tickSigner(ctx context.Context, signer *signerkey.Signer, xpub *signatory.Xpub, node *signerNodeClient, btcPool *spv.Pool) {
	building, err := node.buildingIndex(ctx)
	if err != nil {
		slog.Warn("failed to fetch building index", "error", err)
		return
	}
	// The only checkpoint that accepts signatures is the one just below
	// the Building index.
	if building == 0 {
		return
	}
	signing := building - 1

	toSign, err := node.signingTxs(ctx, xpub, signing)
	if err != nil {
		slog.Warn("failed to fetch signing work", "index", signing, "error", err)
		return
	}
	if len(toSign) == 0 {
		return
	}

	sigs := make([]threshold.Sig, len(toSign))
	for i, item := range toSign {
		sig, err := signer.SignSighash(item.SigsetIndex, item.Sighash)
		if err != nil {
			slog.Error("failed to sign sighash", "index", signing, "sigsetIndex", item.SigsetIndex, "error", err)
			return
		}
		sigs[i] = sig
	}

	height, err := btcPool.HeaderHeight(ctx)
	if err != nil {
		slog.Warn("failed to fetch current btc height, submitting without it", "error", err)
	}

	done, err := node.submitCheckpointSignature(ctx, xpub, sigs, signing, height)
	if err != nil {
		slog.Error("failed to submit checkpoint signature", "index", signing, "error", err)
		return
	}

	slog.Info("checkpoint signature submitted", "index", signing, "numSigs", len(sigs), "done", done)
}

type signerToSign struct {
	Sighash     [32]byte `json:"Sighash"`
	SigsetIndex uint32   `json:"SigsetIndex"`
}

type signerNodeClient struct {
	baseURL string
	client  *http.Client
}

type signerEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func (n *signerNodeClient) declareSignatoryKey(ctx context.Context, consensusKey [32]byte, xpub *signatory.Xpub) error {
	body := map[string]string{
		"consensusKey": hex.EncodeToString(consensusKey[:]),
		"xpub":         xpub.String(),
	}
	return n.postJSON(ctx, "/api/signatory-key", body, nil)
}

func (n *signerNodeClient) buildingIndex(ctx context.Context) (uint32, error) {
	var out struct {
		Index uint32 `json:"index"`
	}
	if err := n.getJSON(ctx, "/api/checkpoints/building", &out); err != nil {
		return 0, err
	}
	return out.Index, nil
}

func (n *signerNodeClient) signingTxs(ctx context.Context, xpub *signatory.Xpub, index uint32) ([]signerToSign, error) {
	var out []signerToSign
	path := fmt.Sprintf("/api/checkpoints/%d/to-sign?xpub=%s", index, xpub.String())
	err := n.getJSON(ctx, path, &out)
	return out, err
}

func (n *signerNodeClient) submitCheckpointSignature(ctx context.Context, xpub *signatory.Xpub, sigs []threshold.Sig, index, btcHeight uint32) (bool, error) {
	body := map[string]interface{}{
		"xpub":      xpub.String(),
		"sigs":      sigs,
		"btcHeight": btcHeight,
	}
	var out struct {
		Done bool `json:"done"`
	}
	err := n.postJSON(ctx, fmt.Sprintf("/api/checkpoints/%d/sign", index), body, &out)
	return out.Done, err
}

func (n *signerNodeClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path, nil)
	if err != nil {
		return err
	}
	return n.do(req, out)
}

func (n *signerNodeClient) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, out)
}

func (n *signerNodeClient) do(req *http.Request, out interface{}) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("node API %s %s: HTTP %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}

	var env signerEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return json.Unmarshal(env.Data, out)
}
