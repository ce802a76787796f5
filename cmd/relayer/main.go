// Command relayer watches Bitcoin for confirmed deposits and checkpoint
// broadcasts and feeds them into a running node's HTTP API, playing the
// external relayer role the bridge façade assumes but doesn't implement
// itself.
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
	"strings"
	"syscall"
	"time"

	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/logging"
	"github.com/Fantasim/nbtcbridge/internal/relay"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relayer error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	depositScriptHex := flag.String("deposit-script", "", "hex-encoded P2WSH deposit script to watch for incoming deposits")
	sigsetIndex := flag.Uint("sigset-index", 0, "sigset index that signed the deposit script")
	destFile := flag.String("dest-file", "", "path to a JSON-encoded checkpoint.Dest describing every deposit's beneficiary")
	pollInterval := flag.Duration("poll-interval", 30*time.Second, "how often to poll Bitcoin and the node for work")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.SetupWithPrefix(cfg.LogLevel, cfg.LogDir, "relayer-%s-%s.log", "relayer-")
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	var depositScript []byte
	var dest checkpoint.Dest
	if *depositScriptHex != "" {
		depositScript, err = hex.DecodeString(*depositScriptHex)
		if err != nil {
			return fmt.Errorf("invalid --deposit-script: %w", err)
		}
		if *destFile == "" {
			return fmt.Errorf("--dest-file is required when --deposit-script is set")
		}
		data, err := os.ReadFile(*destFile)
		if err != nil {
			return fmt.Errorf("read dest file: %w", err)
		}
		if err := json.Unmarshal(data, &dest); err != nil {
			return fmt.Errorf("parse dest file: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	pool := relay.NewPool(httpClient, splitURLs(cfg.EsploraURLs), 4)
	watcher := relay.NewDepositWatcher(pool)
	reconciler := relay.NewReconciler(pool)
	broadcaster := relay.NewBroadcaster(pool)
	feeAdvisor := relay.NewFeeAdvisor(pool)

	node := &nodeClient{baseURL: cfg.NodeAPIURL, client: httpClient}

	slog.Info("relayer starting", "nodeAPIURL", cfg.NodeAPIURL, "pollInterval", *pollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		slog.Info("relayer shutting down")
		cancel()
	}()

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()

	for {
		tick(ctx, depositScript, uint32(*sigsetIndex), dest, watcher, reconciler, broadcaster, feeAdvisor, node)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func tick(
	ctx context.Context,
	depositScript []byte,
	sigsetIndex uint32,
	dest checkpoint.Dest,
	watcher *relay.DepositWatcher,
	reconciler *relay.Reconciler,
	broadcaster *relay.Broadcaster,
	feeAdvisor *relay.FeeAdvisor,
	node *nodeClient,
) {
	if depositScript != nil {
		relayDeposits(ctx, depositScript, sigsetIndex, dest, watcher, node)
	}

	reconcileCheckpoints(ctx, reconciler, broadcaster, node)

	if estimate := feeAdvisor.Estimate(ctx); estimate != nil {
		slog.Debug("fee estimate", "recommendedSatVb", estimate.Recommended())
	}

	if toMint, _, err := node.takePending(ctx); err != nil {
		slog.Warn("take-pending failed", "error", err)
	} else if toMint > 0 {
		slog.Info("took pending mint credits", "toMint", toMint)
	}
}

func relayDeposits(ctx context.Context, script []byte, sigsetIndex uint32, dest checkpoint.Dest, watcher *relay.DepositWatcher, node *nodeClient) {
	candidates, err := watcher.Scan(ctx, script)
	if err != nil {
		slog.Warn("deposit scan failed", "error", err)
		return
	}

	for _, c := range candidates {
		err := node.relayDeposit(ctx, relayDepositRequest{
			BtcTxHex:    hex.EncodeToString(c.RawTx),
			BtcHeight:   c.BtcHeight,
			BtcProof:    hex.EncodeToString(c.Proof),
			Vout:        c.Vout,
			SigsetIndex: sigsetIndex,
			Dest:        dest,
		})
		if err != nil {
			slog.Warn("relay deposit failed", "txid", c.TxID, "vout", c.Vout, "error", err)
			continue
		}
		slog.Info("deposit relayed", "txid", c.TxID, "vout", c.Vout, "btcHeight", c.BtcHeight)
	}
}

func reconcileCheckpoints(ctx context.Context, reconciler *relay.Reconciler, broadcaster *relay.Broadcaster, node *nodeClient) {
	confirmed, err := node.confirmedIndex(ctx)
	if err != nil {
		slog.Warn("failed to fetch confirmed index", "error", err)
		return
	}
	building, err := node.buildingIndex(ctx)
	if err != nil {
		slog.Warn("failed to fetch building index", "error", err)
		return
	}

	start := uint32(0)
	if confirmed != nil {
		start = *confirmed + 1
	}

	var pending []relay.PendingCheckpoint
	for idx := start; idx < building; idx++ {
		cp, err := node.checkpoint(ctx, idx)
		if err != nil {
			slog.Warn("failed to fetch checkpoint", "index", idx, "error", err)
			continue
		}
		if cp.Status != "complete" {
			continue
		}
		if cp.RawTxHex != "" {
			if _, err := broadcaster.Broadcast(ctx, mustDecodeHex(cp.RawTxHex)); err != nil {
				slog.Debug("checkpoint broadcast attempt failed (may already be in mempool)", "index", idx, "error", err)
			}
		}
		pending = append(pending, relay.PendingCheckpoint{Index: cp.Index, TxID: cp.TxID})
	}

	if len(pending) == 0 {
		return
	}

	drifts, err := reconciler.Reconcile(ctx, pending)
	if err != nil {
		slog.Warn("reconcile failed", "error", err)
		return
	}

	for _, d := range drifts {
		if d.Status != relay.DriftConfirmed {
			slog.Warn("checkpoint broadcast missing from every provider", "index", d.Index, "txid", d.TxID)
			continue
		}

		proof, err := reconciler.MerkleProof(ctx, d.TxID)
		if err != nil {
			slog.Warn("failed to fetch merkle proof", "index", d.Index, "txid", d.TxID, "error", err)
			continue
		}

		if err := node.relayCheckpoint(ctx, d.Index, d.BtcHeight, proof); err != nil {
			slog.Warn("relay checkpoint confirmation failed", "index", d.Index, "error", err)
			continue
		}

		slog.Info("checkpoint confirmation relayed", "index", d.Index, "btcHeight", d.BtcHeight)
	}
}

func mustDecodeHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}

func splitURLs(csv string) []string {
	var urls []string
	for _, u := range strings.Split(csv, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// nodeClient is a minimal JSON client for the node's HTTP API: a single
// fixed base URL, no failover (unlike relay.Pool, which rotates across
// multiple untrusted Esplora providers).
type nodeClient struct {
	baseURL string
	client  *http.Client
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type relayDepositRequest struct {
	BtcTxHex    string          `json:"btcTxHex"`
	BtcHeight   uint32          `json:"btcHeight"`
	BtcProof    string          `json:"btcProof"`
	Vout        uint32          `json:"vout"`
	SigsetIndex uint32          `json:"sigsetIndex"`
	Dest        checkpoint.Dest `json:"dest"`
}

type checkpointView struct {
	Index    uint32 `json:"index"`
	Status   string `json:"status"`
	TxID     string `json:"txid"`
	RawTxHex string `json:"rawTxHex"`
}

func (n *nodeClient) relayDeposit(ctx context.Context, req relayDepositRequest) error {
	return n.postJSON(ctx, "/api/deposits/relay", req, nil)
}

func (n *nodeClient) relayCheckpoint(ctx context.Context, index, btcHeight uint32, proof []byte) error {
	body := map[string]interface{}{
		"index":     index,
		"btcHeight": btcHeight,
		"btcProof":  hex.EncodeToString(proof),
	}
	return n.postJSON(ctx, "/api/checkpoints/relay", body, nil)
}

func (n *nodeClient) takePending(ctx context.Context) (uint64, json.RawMessage, error) {
	var out struct {
		ToMint  []json.RawMessage `json:"toMint"`
		Preview json.RawMessage   `json:"preview"`
	}
	if err := n.postJSON(ctx, "/api/checkpoints/take-pending", nil, &out); err != nil {
		return 0, nil, err
	}
	return uint64(len(out.ToMint)), out.Preview, nil
}

func (n *nodeClient) confirmedIndex(ctx context.Context) (*uint32, error) {
	var out struct {
		Index *uint32 `json:"index"`
	}
	if err := n.getJSON(ctx, "/api/checkpoints/confirmed", &out); err != nil {
		return nil, err
	}
	return out.Index, nil
}

func (n *nodeClient) buildingIndex(ctx context.Context) (uint32, error) {
	var out struct {
		Index uint32 `json:"index"`
	}
	if err := n.getJSON(ctx, "/api/checkpoints/building", &out); err != nil {
		return 0, err
	}
	return out.Index, nil
}

func (n *nodeClient) checkpoint(ctx context.Context, index uint32) (checkpointView, error) {
	var out checkpointView
	err := n.getJSON(ctx, fmt.Sprintf("/api/checkpoints/%d", index), &out)
	return out, err
}

func (n *nodeClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path, nil)
	if err != nil {
		return err
	}
	return n.do(req, out)
}

func (n *nodeClient) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
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

func (n *nodeClient) do(req *http.Request, out interface{}) error {
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

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return json.Unmarshal(env.Data, out)
}
