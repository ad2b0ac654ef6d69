package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MockClient implements Client in memory for tests and dry-run mode. Orders
// mutate the operator account's positions at the submitted limit price.
type MockClient struct {
	mu sync.RWMutex

	universe []AssetMeta
	mids     map[string]float64
	accounts map[string]*mockAccount
	leverage map[int]int

	operator    string
	nextOrderID int64
	orderLog    []OrderRequest
	failOrders  map[string]error // symbol -> error forced on next order
}

type mockAccount struct {
	equity       float64
	withdrawable float64
	positions    map[string]*Position
}

// NewMockClient creates a mock venue. The operator account is the one whose
// positions order submissions mutate.
func NewMockClient(operator string) *MockClient {
	return &MockClient{
		mids:        make(map[string]float64),
		accounts:    make(map[string]*mockAccount),
		leverage:    make(map[int]int),
		operator:    operator,
		nextOrderID: 1000,
		failOrders:  make(map[string]error),
	}
}

// ==================== TEST SETUP ====================

// SetUniverse installs the instrument universe.
func (c *MockClient) SetUniverse(metas []AssetMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.universe = metas
}

// SetMid sets the mid-price for a symbol.
func (c *MockClient) SetMid(symbol string, px float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mids[symbol] = px
}

// SetAccount sets equity and withdrawable for an account.
func (c *MockClient) SetAccount(account string, equity, withdrawable float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account(account).equity = equity
	c.account(account).withdrawable = withdrawable
}

// SetPosition installs an open position for an account. A zero size removes
// the position.
func (c *MockClient) SetPosition(account, symbol string, szi float64, leverage int, entryPx float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acct := c.account(account)
	if szi == 0 {
		delete(acct.positions, symbol)
		return
	}
	liqPx := entryPx * 0.5
	if szi < 0 {
		liqPx = entryPx * 1.5
	}
	acct.positions[symbol] = &Position{
		Coin:          symbol,
		Szi:           szi,
		Leverage:      Leverage{Type: "cross", Value: leverage},
		EntryPx:       entryPx,
		LiquidationPx: liqPx,
	}
}

// FailNextOrder forces the next position-opening (non-reduce-only) order
// for a symbol to fail with err. Reduce-only closes are unaffected.
func (c *MockClient) FailNextOrder(symbol string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOrders[symbol] = err
}

// Orders returns the submitted order log.
func (c *MockClient) Orders() []OrderRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]OrderRequest, len(c.orderLog))
	copy(out, c.orderLog)
	return out
}

// LeverageFor returns the last leverage set for an asset index.
func (c *MockClient) LeverageFor(assetIndex int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leverage[assetIndex]
}

// ==================== CLIENT ====================

func (c *MockClient) Meta(ctx context.Context) (*Meta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	universe := make([]AssetMeta, len(c.universe))
	copy(universe, c.universe)
	return &Meta{Universe: universe}, nil
}

func (c *MockClient) AllMids(ctx context.Context) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mids := make(map[string]float64, len(c.mids))
	for k, v := range c.mids {
		mids[k] = v
	}
	return mids, nil
}

func (c *MockClient) ClearinghouseState(ctx context.Context, account string) (*ClearinghouseState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	acct := c.accounts[account]
	if acct == nil {
		return &ClearinghouseState{}, nil
	}

	state := &ClearinghouseState{
		MarginSummary: MarginSummary{AccountValue: acct.equity},
		Withdrawable:  acct.withdrawable,
	}
	for _, pos := range acct.positions {
		state.AssetPositions = append(state.AssetPositions, AssetPosition{
			Type:     "oneWay",
			Position: *pos,
		})
	}
	return state, nil
}

func (c *MockClient) UpdateLeverage(ctx context.Context, assetIndex int, cross bool, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leverage[assetIndex] = leverage
	return nil
}

func (c *MockClient) SubmitMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.AssetIndex < 0 || req.AssetIndex >= len(c.universe) {
		return nil, fmt.Errorf("unknown asset index %d", req.AssetIndex)
	}
	symbol := c.universe[req.AssetIndex].Name

	if err, ok := c.failOrders[symbol]; ok && !req.ReduceOnly {
		delete(c.failOrders, symbol)
		return nil, err
	}

	c.orderLog = append(c.orderLog, req)
	c.nextOrderID++

	acct := c.account(c.operator)
	pos := acct.positions[symbol]
	delta := req.Size
	if !req.IsBuy {
		delta = -req.Size
	}

	switch {
	case pos == nil:
		if !req.ReduceOnly {
			lev := c.leverage[req.AssetIndex]
			if lev == 0 {
				lev = 1
			}
			c.installPosition(acct, symbol, delta, lev, req.LimitPrice)
		}
	default:
		newSzi := pos.Szi + delta
		if req.ReduceOnly && math.Signbit(newSzi) != math.Signbit(pos.Szi) {
			newSzi = 0
		}
		if math.Abs(newSzi) < 1e-12 {
			delete(acct.positions, symbol)
		} else {
			pos.Szi = newSzi
		}
	}

	return &OrderResult{
		OrderID:    c.nextOrderID,
		Status:     "filled",
		FilledSize: req.Size,
		AvgPrice:   req.LimitPrice,
	}, nil
}

func (c *MockClient) account(name string) *mockAccount {
	acct := c.accounts[name]
	if acct == nil {
		acct = &mockAccount{positions: make(map[string]*Position)}
		c.accounts[name] = acct
	}
	return acct
}

func (c *MockClient) installPosition(acct *mockAccount, symbol string, szi float64, leverage int, entryPx float64) {
	liqPx := entryPx * 0.5
	if szi < 0 {
		liqPx = entryPx * 1.5
	}
	acct.positions[symbol] = &Position{
		Coin:          symbol,
		Szi:           szi,
		Leverage:      Leverage{Type: "cross", Value: leverage},
		EntryPx:       entryPx,
		LiquidationPx: liqPx,
	}
}
