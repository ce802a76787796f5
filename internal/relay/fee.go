package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Fantasim/nbtcbridge/internal/config"
)

// FeeEstimate mirrors mempool.space's /v1/fees/recommended response tiers.
type FeeEstimate struct {
	FastestFee  uint64 `json:"fastestFee"`
	HalfHourFee uint64 `json:"halfHourFee"`
	HourFee     uint64 `json:"hourFee"`
	EconomyFee  uint64 `json:"economyFee"`
	MinimumFee  uint64 `json:"minimumFee"`
}

// FeeAdvisor recommends a starting checkpoint fee rate from mempool.space
// fee tiers. It is advisory tooling for an operator calling
// Bitcoin.UpdateCheckpointConfig: the checkpoint queue's own adjust_up/
// adjust_down mechanism is authoritative once a checkpoint is in flight.
type FeeAdvisor struct {
	pool *Pool
}

// NewFeeAdvisor binds a fee advisor to a provider pool.
func NewFeeAdvisor(pool *Pool) *FeeAdvisor {
	return &FeeAdvisor{pool: pool}
}

// Estimate fetches current fee tiers, falling back to a conservative
// default estimate if every provider is unreachable rather than failing
// the caller outright — an operator can still push a (stale) starting
// fee rate when mempool.space is down.
func (a *FeeAdvisor) Estimate(ctx context.Context) *FeeEstimate {
	ctx, cancel := context.WithTimeout(ctx, config.FeeEstimateTimeout)
	defer cancel()

	var estimate FeeEstimate
	err := a.pool.Do(ctx, func(ctx context.Context, client *http.Client, baseURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+config.MempoolFeeEstimatePath, nil)
		if err != nil {
			return fmt.Errorf("create fee request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s", config.ErrFeeEstimateFailed, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: HTTP %d", config.ErrFeeEstimateFailed, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&estimate)
	})
	if err != nil {
		slog.Warn("relay: fee estimate unavailable, using default", "error", err, "default_fee_rate", config.BTCDefaultFeeRate)
		return defaultEstimate()
	}

	enforceMinimum(&estimate)
	return &estimate
}

// Recommended returns the medium-priority (half-hour confirmation) fee
// rate from an estimate.
func (e *FeeEstimate) Recommended() uint64 {
	return e.HalfHourFee
}

func defaultEstimate() *FeeEstimate {
	return &FeeEstimate{
		FastestFee:  config.BTCDefaultFeeRate * 2,
		HalfHourFee: config.BTCDefaultFeeRate,
		HourFee:     config.BTCDefaultFeeRate,
		EconomyFee:  config.BTCMinFeeRate,
		MinimumFee:  config.BTCMinFeeRate,
	}
}

func enforceMinimum(e *FeeEstimate) {
	min := uint64(config.BTCMinFeeRate)
	if e.FastestFee < min {
		e.FastestFee = min
	}
	if e.HalfHourFee < min {
		e.HalfHourFee = min
	}
	if e.HourFee < min {
		e.HourFee = min
	}
	if e.EconomyFee < min {
		e.EconomyFee = min
	}
	if e.MinimumFee < min {
		e.MinimumFee = min
	}
}
