package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhbvault/crypto"
)

// HTTPClient is a Client backed by a remote ledger's JSON-RPC endpoint,
// grounded on the teacher's services/swap-gateway NodeClient: a single
// http.Client, one JSON-RPC request/response shape, no retries or
// connection pooling beyond what net/http already does.
type HTTPClient struct {
	url        string
	fee        uint64
	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient against a ledger's RPC endpoint. fee is
// the ledger's fixed per-transfer fee, read once from configuration since the
// protocol has no way to query it live.
func NewHTTPClient(url string, fee uint64) *HTTPClient {
	return &HTTPClient{
		url:        url,
		fee:        fee,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger rpc request: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("ledger rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ledger rpc unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (c *HTTPClient) TransferFrom(ctx context.Context, owner crypto.Principal, amount uint64) (uint64, error) {
	var blockIndex uint64
	err := c.call(ctx, "ledger_transferFrom", []interface{}{owner.String(), amount}, &blockIndex)
	return blockIndex, err
}

func (c *HTTPClient) Transfer(ctx context.Context, to crypto.Principal, amount uint64) (uint64, error) {
	var blockIndex uint64
	err := c.call(ctx, "ledger_transfer", []interface{}{to.String(), amount}, &blockIndex)
	return blockIndex, err
}

func (c *HTTPClient) BalanceOf(ctx context.Context, account crypto.Principal) (uint64, error) {
	var balance uint64
	err := c.call(ctx, "ledger_balanceOf", []interface{}{account.String()}, &balance)
	return balance, err
}

func (c *HTTPClient) Fee() uint64 { return c.fee }

var _ Client = (*HTTPClient)(nil)
