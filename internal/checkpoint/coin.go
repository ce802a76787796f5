package checkpoint

// Coin is a denominated amount of sidechain currency, credited to a Dest
// once its containing checkpoint confirms.
type Coin struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount"`
}

// PendingCredit is one entry of a checkpoint's pending list: a credit to
// release to Dest once the checkpoint confirms and take_pending drains it.
type PendingCredit struct {
	Dest Dest `json:"dest"`
	Coin Coin `json:"coin"`
}
