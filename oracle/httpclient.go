package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient is a RateProvider backed by a remote price-feed's JSON-RPC
// endpoint, using the same request/response shape as ledger.HTTPClient.
type HTTPClient struct {
	url        string
	httpClient *http.Client
}

func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{url: url, httpClient: &http.Client{Timeout: 10 * time.Second}}
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

type quoteResult struct {
	Rate      uint64 `json:"rate"`
	Decimals  uint32 `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
}

func (c *HTTPClient) FetchRate(ctx context.Context, asOf time.Time) (Quote, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "oracle_fetchRate",
		Params:  []interface{}{asOf.Unix()},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return Quote{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return Quote{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle rpc request: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return Quote{}, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return Quote{}, fmt.Errorf("oracle rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return Quote{}, fmt.Errorf("oracle rpc unexpected status %d", resp.StatusCode)
	}

	var result quoteResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	return Quote{Rate: result.Rate, Decimals: result.Decimals, Timestamp: time.Unix(result.Timestamp, 0)}, nil
}

var _ RateProvider = (*HTTPClient)(nil)
