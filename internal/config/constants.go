package config

import "time"

// BIP-32 derivation constants. Signatory keys derive under a purpose
// distinct from any ordinary receive-address derivation: a validator
// declares an account-level Xpub once, and the signatory set then derives
// one non-hardened child per checkpoint at child = sigset.index.
const (
	BIP32SignatoryPurpose = 9999 // m/9999'/coin'/0' — bridge signatory account
	BTCCoinType           = 0    // mainnet
	BTCTestCoinType       = 1    // testnet/regtest
)

// MaxSignatories bounds the weighted-multisig signatory set.
const MaxSignatories = 20

// SigsetThresholdNum / SigsetThresholdDen express the default quorum ratio
// required to sign a checkpoint: 9/10 = 90%.
const (
	SigsetThresholdNum = 9
	SigsetThresholdDen = 10
)

// DefaultFeeRate seeds a freshly pushed Building checkpoint's fee rate
// (sats/vbyte) before the queue's adjust-up/down loop has any unconfirmed
// history to react to.
const DefaultFeeRate uint64 = 55

// ScriptIntBits is the maximum bit width a pushed integer may have in the
// weighted redeem script, keeping pushes to 3 bytes and avoiding Bitcoin
// script's sign-bit ambiguity.
const ScriptIntBits = 23

// CheckpointConfig holds the tunables governing checkpoint queue advance,
// fee-rate adjustment and pruning.
type CheckpointConfig struct {
	MinCheckpointInterval     time.Duration
	MaxCheckpointInterval     time.Duration
	MaxInputs                 int
	MaxOutputs                int
	MaxAge                    time.Duration
	TargetCheckpointInclusion uint32 // blocks
	MinFeeRate                uint64 // sats/vbyte
	MaxFeeRate                uint64 // sats/vbyte
	UserFeeFactorBP           uint64 // basis points (10_000 = 100%)
	SigsetThresholdNum        uint64
	SigsetThresholdDen        uint64
	MaxUnconfirmedCheckpoints int
}

// DefaultCheckpointConfig returns the checkpoint queue's default tunables.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		MinCheckpointInterval:     5 * time.Minute,
		MaxCheckpointInterval:     8 * 24 * time.Hour,
		MaxInputs:                 40,
		MaxOutputs:                200,
		MaxAge:                    3 * 7 * 24 * time.Hour,
		TargetCheckpointInclusion: 2,
		MinFeeRate:                1,
		MaxFeeRate:                200,
		UserFeeFactorBP:           27_000,
		SigsetThresholdNum:        SigsetThresholdNum,
		SigsetThresholdDen:        SigsetThresholdDen,
		MaxUnconfirmedCheckpoints: 15,
	}
}

// BitcoinConfig holds the tunables governing deposit/withdrawal handling.
type BitcoinConfig struct {
	MinWithdrawalCheckpoints   int
	MinConfirmations           uint32
	UnitsPerSat                uint64
	MaxOfflineCheckpoints      int
	MinCheckpointConfirmations uint32
	CapacityLimitSats          uint64
	MaxDepositAge              time.Duration
	MaxWithdrawalScriptLen     int
}

// DefaultBitcoinConfig returns the deposit/withdrawal handling's default tunables.
func DefaultBitcoinConfig() BitcoinConfig {
	return BitcoinConfig{
		MinWithdrawalCheckpoints:   4,
		MinConfirmations:           1,
		UnitsPerSat:                1_000_000,
		MaxOfflineCheckpoints:      20,
		MinCheckpointConfirmations: 0,
		CapacityLimitSats:          21 * 100_000_000,
		MaxDepositAge:              14 * 24 * time.Hour,
		MaxWithdrawalScriptLen:     64,
	}
}

// Fee / dust thresholds shared by the checkpoint tx builder.
const (
	DustValueSats    = 546
	BTCTxOverheadWU  = 42
	P2WSHInputBaseWU = 164 // non-witness portion common to all P2WSH inputs
	P2WPKHOutputWU   = 124
)

// Pagination (ambient API concern).
const (
	DefaultPage     = 1
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Relayer provider-pool tuning.
const (
	ProviderRequestTimeout = 15 * time.Second
	ProviderMaxRetries     = 3
	ProviderRetryBaseDelay = 1 * time.Second
	SSEHubChannelBuffer    = 64
)

// Esplora/mempool.space provider URLs.
const (
	BlockstreamMainnetURL = "https://blockstream.info/api"
	MempoolMainnetURL     = "https://mempool.space/api"
	BlockstreamTestnetURL = "https://blockstream.info/testnet/api"
	MempoolTestnetURL     = "https://mempool.space/testnet/api"
)

// Server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 60 * time.Second
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	ShutdownTimeout      = 15 * time.Second
	SSEKeepAliveInterval = 15 * time.Second
)

// Logging
const (
	LogFilePattern = "bridge-%s-%s.log" // %s = YYYY-MM-DD, then level name
	LogMaxAgeDays  = 30
)

// Storage
const (
	StorageBusyTimeoutMS = 5000
)

// Token sink transaction constants. The sink signs with a single admin
// key at a fixed derivation index rather than a per-customer-address
// scheme.
const (
	BIP44Purpose = 44
	EVMCoinType  = 60 // m/44'/60'/0'/0/N, shared by every EVM-compatible sidechain

	// TokenSinkKeyIndex is the fixed BIP-44 address index the bridge's
	// admin signing key derives at: m/44'/60'/0'/0/0.
	TokenSinkKeyIndex = 0

	// TokenSinkGasLimit covers a mint/burn call into the bridge's sink
	// contract, generously above a plain BEP-20 transfer's ~65k.
	TokenSinkGasLimit = 120_000

	// TokenSinkGasPriceBufferNumerator / Denominator apply a 20% buffer
	// on top of the node's suggested gas price before broadcasting a
	// transaction.
	TokenSinkGasPriceBufferNumerator   = 120
	TokenSinkGasPriceBufferDenominator = 100

	TokenSinkReceiptPollInterval = 2 * time.Second
	TokenSinkReceiptPollTimeout  = 2 * time.Minute
)

// Relayer fee advice, sourced from a mempool.space-style fee estimator.
// Advisory only: it recommends a starting fee_rate for
// UpdateCheckpointConfig, never feeds the queue's own adjust_up/adjust_down.
const (
	MempoolFeeEstimatePath = "/v1/fees/recommended"
	FeeEstimateTimeout     = 5 * time.Second

	// BTCDefaultFeeRate / BTCMinFeeRate are sat/vbyte fallbacks used when
	// the fee estimate API is unreachable or returns a tier below the
	// network's effective minimum relay fee.
	BTCDefaultFeeRate = 20
	BTCMinFeeRate      = 1
)
