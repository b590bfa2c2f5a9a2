// Package movechain implements the Move observer (C5) and the Move leg of
// the withdrawal executor (C8). No Move/Sui Go SDK is available, so the
// client speaks the chain's JSON-RPC surface directly over net/http.
package movechain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

// Config configures the Move chain client.
type Config struct {
	RPCURL     string
	PackageID  string
	ModuleName string // defaults to "htlc"
	HTTPClient *http.Client
}

// Client is a minimal JSON-RPC client for the Move chain's HTLC module.
type Client struct {
	rpcURL     string
	packageID  string
	moduleName string
	httpClient *http.Client
	log        *logging.Logger
}

// NewClient constructs a Move chain client.
func NewClient(cfg Config) *Client {
	moduleName := cfg.ModuleName
	if moduleName == "" {
		moduleName = "htlc"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		rpcURL:     cfg.RPCURL,
		packageID:  cfg.PackageID,
		moduleName: moduleName,
		httpClient: httpClient,
		log:        logging.GetDefault().Component("movechain"),
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
	Error   *rpcError       `json:"error,omitempty"`
}

// call issues a JSON-RPC request and unmarshals the result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc request %s: unexpected status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// LatestCheckpoint returns the chain's current checkpoint sequence number.
func (c *Client) LatestCheckpoint(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "sui_getLatestCheckpointSequenceNumber", nil, &result); err != nil {
		return 0, err
	}
	var seq uint64
	if _, err := fmt.Sscanf(result, "%d", &seq); err != nil {
		return 0, fmt.Errorf("parse checkpoint sequence %q: %w", result, err)
	}
	return seq, nil
}

// moveEventFilter is the event query filter scoped to this package's HTLC
// module.
type moveEventFilter struct {
	MoveModule struct {
		Package string `json:"package"`
		Module  string `json:"module"`
	} `json:"MoveModule"`
}

// rawMoveEvent is the wire shape of one entry in sui_queryEvents's result.
type rawMoveEvent struct {
	ID struct {
		TxDigest string `json:"txDigest"`
		EventSeq string `json:"eventSeq"`
	} `json:"id"`
	PackageID         string          `json:"packageId"`
	TransactionModule string          `json:"transactionModule"`
	Type              string          `json:"type"`
	ParsedJSON        json.RawMessage `json:"parsedJson"`
	Timestamp         string          `json:"timestampMs"`
	Checkpoint        string          `json:"checkpoint"`
}

type queryEventsResult struct {
	Data        []rawMoveEvent `json:"data"`
	NextCursor  interface{}    `json:"nextCursor"`
	HasNextPage bool           `json:"hasNextPage"`
}

// QueryEvents fetches HTLC module events after the given cursor, up to
// limit entries, ordered ascending by checkpoint.
func (c *Client) QueryEvents(ctx context.Context, cursor interface{}, limit int) ([]rawMoveEvent, interface{}, bool, error) {
	filter := moveEventFilter{}
	filter.MoveModule.Package = c.packageID
	filter.MoveModule.Module = c.moduleName

	var result queryEventsResult
	err := c.call(ctx, "suix_queryEvents", []interface{}{filter, cursor, limit, false}, &result)
	if err != nil {
		return nil, nil, false, err
	}
	return result.Data, result.NextCursor, result.HasNextPage, nil
}

// ExecuteTransaction submits a pre-signed, base64-encoded transaction block
// and its signatures; used by the withdrawal executor for withdraw/refund
// calls on the Move side.
func (c *Client) ExecuteTransaction(ctx context.Context, txBytesB64 string, signaturesB64 []string) (string, error) {
	options := map[string]bool{"showEffects": true}
	var result struct {
		Digest  string `json:"digest"`
		Effects struct {
			Status struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			} `json:"status"`
		} `json:"effects"`
	}
	sigs := make([]interface{}, len(signaturesB64))
	for i, s := range signaturesB64 {
		sigs[i] = s
	}
	err := c.call(ctx, "sui_executeTransactionBlock",
		[]interface{}{txBytesB64, sigs, options, "WaitForLocalExecution"}, &result)
	if err != nil {
		return "", err
	}
	if result.Effects.Status.Status != "success" {
		return result.Digest, fmt.Errorf("move transaction failed: %s", result.Effects.Status.Error)
	}
	return result.Digest, nil
}
