package hyperliquid

import "context"

// Client defines the venue operations the engine consumes. Implementable
// against any venue offering market-order trading with cross-margin leverage
// on perpetuals.
type Client interface {
	// Meta retrieves the instrument universe. The index of an instrument in
	// the returned universe is its asset index for exchange calls.
	Meta(ctx context.Context) (*Meta, error)

	// AllMids retrieves the current mid-price for every instrument.
	AllMids(ctx context.Context) (map[string]float64, error)

	// ClearinghouseState retrieves equity, withdrawable margin and open
	// positions for an account.
	ClearinghouseState(ctx context.Context, account string) (*ClearinghouseState, error)

	// UpdateLeverage sets the leverage for an asset on the operator account.
	UpdateLeverage(ctx context.Context, assetIndex int, cross bool, leverage int) error

	// SubmitMarketOrder places an aggressive IOC limit order at the caller's
	// slippage-bounded price.
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}
