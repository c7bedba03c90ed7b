package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
)

// maxResponseSize caps a single JSON-RPC response. Full blocks can be large.
const maxResponseSize = 16 << 20

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// rpcClient speaks Ethereum JSON-RPC over HTTP POST to one node.
type rpcClient struct {
	url    string
	http   *http.Client
	nextID atomic.Int64
}

func (c *rpcClient) call(ctx context.Context, method string, result any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: building request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", method, resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", method, err)
	}
	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if out.Error != nil {
		return fmt.Errorf("%s: %w", method, out.Error)
	}
	if result == nil || len(out.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return fmt.Errorf("%s: decoding result: %w", method, err)
	}
	return nil
}

type rpcTransaction struct {
	Hash        string  `json:"hash"`
	BlockNumber string  `json:"blockNumber"`
	From        string  `json:"from"`
	To          *string `json:"to"`
	Gas         string  `json:"gas"`
}

type rpcBlock struct {
	Number       string           `json:"number"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcReceipt struct {
	ContractAddress *string `json:"contractAddress"`
	GasUsed         string  `json:"gasUsed"`
}

func (c *rpcClient) blockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.call(ctx, "eth_blockNumber", &hex); err != nil {
		return 0, err
	}
	return parseQuantity(hex)
}

// blockByNumber returns nil for a block the node does not know.
func (c *rpcClient) blockByNumber(ctx context.Context, n uint64) (*rpcBlock, error) {
	var b *rpcBlock
	if err := c.call(ctx, "eth_getBlockByNumber", &b, formatQuantity(n), true); err != nil {
		return nil, err
	}
	return b, nil
}

// transactionReceipt returns nil while the transaction is pending.
func (c *rpcClient) transactionReceipt(ctx context.Context, hash string) (*rpcReceipt, error) {
	var r *rpcReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", &r, hash); err != nil {
		return nil, err
	}
	return r, nil
}

func formatQuantity(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

// parseQuantity decodes a hex quantity. An empty string is zero.
func parseQuantity(s string) (uint64, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return n, nil
}
