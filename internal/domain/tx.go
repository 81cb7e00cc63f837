package domain

import "math/big"

// Venue names a swap venue in the routing waterfall.
type Venue string

const (
	VenueAggregator   Venue = "aggregator"
	VenueV3           Venue = "v3"
	VenueV2           Venue = "v2"
	VenueBondingCurve Venue = "bonding_curve"
)

// TxRequest is an unsigned transaction handed to the external signer.
type TxRequest struct {
	To       string   `json:"to"`
	Data     string   `json:"data"` // 0x-prefixed hex
	Value    *big.Int `json:"value"`
	ChainID  int64    `json:"chain_id"`
	Gas      uint64   `json:"gas"`
	GasPrice *big.Int `json:"gas_price"`
}

// TxPlan is the routing result for one swap. It is not persisted.
type TxPlan struct {
	Venue        Venue
	Router       string
	Path         []string
	FeeTier      uint32
	Tx           TxRequest
	AmountIn     *big.Int
	QuotedOut    *big.Int
	AmountOutMin *big.Int
	ImpactBps    int64

	NeedsApproval bool
	ApprovalTx    *TxRequest
}
