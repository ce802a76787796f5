package relay

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// Broadcaster submits signed checkpoint and recovery transactions to the
// same provider pool a DepositWatcher polls.
type Broadcaster struct {
	pool *Pool
}

// NewBroadcaster binds a broadcaster to a provider pool.
func NewBroadcaster(pool *Pool) *Broadcaster {
	return &Broadcaster{pool: pool}
}

// Broadcast submits a raw signed transaction and returns its txid. A
// provider rejecting the transaction outright (HTTP 400, the Esplora
// convention for a malformed or already-spent transaction) is treated as
// permanent: no provider will accept the same bytes, so Broadcast does not
// fail over to try another one.
func (b *Broadcaster) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	rawHex := hex.EncodeToString(rawTx)

	var txid string
	err := b.pool.Do(ctx, func(ctx context.Context, client *http.Client, baseURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/tx", strings.NewReader(rawHex))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "text/plain")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		body := strings.TrimSpace(buf.String())

		if resp.StatusCode == http.StatusBadRequest {
			return Permanent(fmt.Errorf("%w: %s", ErrBadTransaction, body))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("broadcast failed: HTTP %d: %s", resp.StatusCode, body)
		}

		txid = body
		return nil
	})
	if err != nil {
		return "", err
	}
	return txid, nil
}
