// Package chain wraps the external blockchain surfaces the control plane
// reads: JSON-RPC via go-ethereum's ethclient and the Blockscout explorer
// REST API. All calls carry a 10s deadline.
package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// callTimeout bounds every outbound RPC call.
const callTimeout = 10 * time.Second

const weiPerGwei = 1e9
const weiPerETH = 1e18

// Reader is the chain surface the rest of the system consumes. Client
// implements it; tests substitute fakes.
type Reader interface {
	GasPriceGwei(ctx context.Context) (float64, error)
	BalanceETH(ctx context.Context, addr common.Address) (float64, error)
	TransactionCount(ctx context.Context, addr common.Address) (uint64, error)
}

// Client reads chain state over JSON-RPC.
type Client struct {
	ec *ethclient.Client
}

// Dial connects to the RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return &Client{ec: ec}, nil
}

// NewClient wraps an existing ethclient connection.
func NewClient(ec *ethclient.Client) *Client {
	return &Client{ec: ec}
}

// GasPriceGwei returns the suggested gas price in gwei.
func (c *Client) GasPriceGwei(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	wei, err := c.ec.SuggestGasPrice(ctx)
	if err != nil {
		return 0, err
	}
	f, _ := wei.Float64()
	return f / weiPerGwei, nil
}

// BalanceETH returns the address's latest native balance in ether.
func (c *Client) BalanceETH(ctx context.Context, addr common.Address) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	wei, err := c.ec.BalanceAt(ctx, addr, nil)
	if err != nil {
		return 0, err
	}
	f, _ := wei.Float64()
	return f / weiPerETH, nil
}

// TransactionCount returns the address's sent-transaction count (its latest
// nonce).
func (c *Client) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	return c.ec.NonceAt(ctx, addr, nil)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}
