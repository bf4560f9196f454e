// Package rpcquery is a minimal JSON-RPC eth_call client for the two
// on-chain reads the investor bookkeeping needs (§6.3): ERC20 balanceOf and
// a token-distributor's allocation claim-status.
package rpcquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
)

// blockSize is the hex-character width of one 32-byte ABI word.
const blockSize = 64

const (
	selectorBalanceOf         = "0x70a08231"
	selectorAllocationClaimed = "0xc31cd7d7"
)

// ErrProtocol marks a malformed or erroring eth_call response.
var ErrProtocol = fmt.Errorf("rpcquery: protocol error")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type callObject struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client executes eth_call requests against a single JSON-RPC endpoint
// (one per chain: gnosis or mainnet, §6.4 "rpc.{gnosis,mainnet}").
type Client struct {
	url        string
	httpClient *http.Client
	log        *logrus.Entry
}

// New creates a Client against a JSON-RPC HTTP endpoint.
func New(url string, log *logrus.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.WithField("component", "rpcquery"),
	}
}

func (c *Client) call(ctx context.Context, to, data string) (string, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_call",
		Params:  []any{callObject{To: to, Data: data}, "latest"},
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("rpcquery: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("rpcquery: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("rpcquery: request failed: %w", err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProtocol, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrProtocol, resp.StatusCode)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrProtocol, out.Error.Message)
	}
	if out.Result == "" {
		return "", fmt.Errorf("%w: missing result", ErrProtocol)
	}
	return out.Result, nil
}

// leftPadAddress strips any 0x prefix and right-justifies the address to
// one ABI word, matching address.lower().replace("0x", "").rjust(64, "0").
func leftPadAddress(addr address.Address) string {
	hex := strings.TrimPrefix(addr.String(), "0x")
	if len(hex) < blockSize {
		hex = strings.Repeat("0", blockSize-len(hex)) + hex
	}
	return hex
}

func leftPadHex(v int, width int) string {
	s := fmt.Sprintf("%x", v)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}

// BalanceOf calls an ERC20-style balanceOf(address) against token and
// returns the raw token amount, decimal-normalized using symbol (§6.3).
func (c *Client) BalanceOf(ctx context.Context, token string, addr address.Address, symbol string) (balance.Balance, error) {
	data := selectorBalanceOf + leftPadAddress(addr)
	raw, err := c.call(ctx, token, data)
	if err != nil {
		return balance.Balance{}, err
	}

	n, ok := new(big.Int).SetString(strings.TrimPrefix(raw, "0x"), 16)
	if !ok {
		return balance.Balance{}, fmt.Errorf("%w: invalid balance hex %q", ErrProtocol, raw)
	}
	b, err := balance.Parse(fmt.Sprintf("%s wei %s", n.String(), symbol))
	if err != nil {
		return balance.Balance{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return b, nil
}

// Allocation is the investor vesting schedule's claim status for one
// address: total granted amount and amount already claimed, both in whole
// token units (§3 "Allocation").
type Allocation struct {
	Address  address.Address
	Schedule string
	Amount   float64
	Claimed  float64
}

// Unclaimed returns the portion of the allocation not yet claimed.
func (a Allocation) Unclaimed() float64 { return a.Amount - a.Claimed }

// weiToFloat converts an 18-decimal token amount to a float64 token count,
// mirroring `float(amount) / 1e18`.
func weiToFloat(hex string) float64 {
	n, ok := new(big.Int).SetString(strings.TrimPrefix(hex, "0x"), 16)
	if !ok {
		return 0
	}
	f := new(big.Float).SetInt(n)
	f.Quo(f, big.NewFloat(1e18))
	out, _ := f.Float64()
	return out
}

// Allocations calls a token distributor's claim-status function for addr
// under the given vesting schedule identifier, and returns the granted and
// claimed amounts (§6.3).
func (c *Client) Allocations(ctx context.Context, contract string, addr address.Address, schedule string) (Allocation, error) {
	encodedSchedule := fmt.Sprintf("%x", []byte(schedule))
	dataLen := len(encodedSchedule) / 2

	padded := encodedSchedule
	if len(padded) < blockSize {
		padded = padded + strings.Repeat("0", blockSize-len(padded))
	}

	data := selectorAllocationClaimed +
		leftPadAddress(addr) +
		leftPadHex(blockSize, blockSize) + // offset of the string argument, 0x40
		leftPadHex(dataLen, blockSize) +
		padded

	raw, err := c.call(ctx, contract, data)
	if err != nil {
		return Allocation{}, err
	}

	body := strings.TrimPrefix(raw, "0x")
	if len(body) < 2*blockSize {
		return Allocation{}, fmt.Errorf("%w: short allocation response", ErrProtocol)
	}

	amountHex := body[0:blockSize]
	claimedHex := body[blockSize : 2*blockSize]

	return Allocation{
		Address:  addr,
		Schedule: schedule,
		Amount:   weiToFloat(amountHex),
		Claimed:  weiToFloat(claimedHex),
	}, nil
}
