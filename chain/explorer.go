// explorer.go fetches recent transactions from a Blockscout-compatible
// explorer. Only the dust-spam abuse check consumes it, so the surface is a
// single call.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aegis-labs/aegis/policy"
)

// explorerPageSize is how many recent transactions one lookup requests.
const explorerPageSize = 25

// ExplorerClient reads the Blockscout account API.
type ExplorerClient struct {
	baseURL string
	http    *http.Client
}

// NewExplorerClient creates a client for the given Blockscout base URL.
func NewExplorerClient(baseURL string) *ExplorerClient {
	return &ExplorerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: callTimeout},
	}
}

// blockscoutTx is the subset of the account txlist response we read.
type blockscoutTx struct {
	Value string `json:"value"` // wei, decimal string
}

type blockscoutResponse struct {
	Status string         `json:"status"`
	Result []blockscoutTx `json:"result"`
}

// RecentTransactions returns the address's most recent transactions, newest
// first, reduced to their native value.
func (e *ExplorerClient) RecentTransactions(ctx context.Context, addr common.Address) ([]policy.ExplorerTx, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", addr.Hex())
	q.Set("page", "1")
	q.Set("offset", fmt.Sprint(explorerPageSize))
	q.Set("sort", "desc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain: explorer returned %s", resp.Status)
	}
	var body blockscoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("chain: decode explorer response: %w", err)
	}

	out := make([]policy.ExplorerTx, 0, len(body.Result))
	for _, tx := range body.Result {
		out = append(out, policy.ExplorerTx{ValueETH: weiStringToETH(tx.Value)})
	}
	return out, nil
}

// weiStringToETH parses a decimal wei amount; malformed values count as
// zero, which is the conservative reading for a dust check.
func weiStringToETH(s string) float64 {
	wei, ok := new(big.Float).SetString(s)
	if !ok {
		return 0
	}
	eth, _ := new(big.Float).Quo(wei, big.NewFloat(weiPerETH)).Float64()
	return eth
}

var _ policy.ExplorerReader = (*ExplorerClient)(nil)
