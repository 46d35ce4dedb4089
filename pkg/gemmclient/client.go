// Package gemmclient talks to a running gemmcheck server.
package gemmclient

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxnlabs/gemmcheck/internal/auth"
)

type Params struct {
	B int `json:"b"`
	M int `json:"m"`
	N int `json:"n"`
	K int `json:"k"`
}

type Operand struct {
	Data    []float32 `json:"data"`
	Strides []int     `json:"strides"`
	Offset  int       `json:"offset"`
}

type GemmRequest struct {
	Params Params  `json:"params"`
	LHS    Operand `json:"lhs"`
	RHS    Operand `json:"rhs"`
	Digits *int    `json:"digits,omitempty"`
	Verify bool    `json:"verify,omitempty"`
}

type GemmResponse struct {
	Output   []float32 `json:"output"`
	Digest   string    `json:"digest"`
	Kernel   string    `json:"kernel"`
	Backend  string    `json:"backend"`
	Verified *bool     `json:"verified,omitempty"`
}

// ScenarioResult is one entry of the /scenarios report.
type ScenarioResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Output   []float32     `json:"output,omitempty"`
	Expected []float32     `json:"expected,omitempty"`
	Digest   string        `json:"digest,omitempty"`
	Kernel   string        `json:"kernel"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Body)
}

// Client sends requests to a gemmcheck server.
type Client struct {
	baseURL    string
	client     *http.Client
	privateKey *ecdsa.PrivateKey
}

type Option func(*Client)

// WithPrivateKey signs every request with key, for servers with auth
// enabled.
func WithPrivateKey(key *ecdsa.PrivateKey) Option {
	return func(c *Client) { c.privateKey = key }
}

// WithPrivateKeyHex is WithPrivateKey for a hex encoded key.
func WithPrivateKeyHex(privateKeyHex string) (Option, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return WithPrivateKey(key), nil
}

// New creates a client for the server at baseURL. A nil http.Client uses
// http.DefaultClient.
func New(baseURL string, client *http.Client, opts ...Option) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Gemm runs one batched GEMM on the server.
func (c *Client) Gemm(ctx context.Context, req GemmRequest) (*GemmResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var resp GemmResponse
	if _, err := c.do(ctx, http.MethodPost, "/gemm", body, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GemmBatch runs independent GEMMs in one call. Results are in request
// order; any failing request fails the batch.
func (c *Client) GemmBatch(ctx context.Context, reqs []GemmRequest) ([]GemmResponse, error) {
	body, err := json.Marshal(struct {
		Requests []GemmRequest `json:"requests"`
	}{reqs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var resp struct {
		Results []GemmResponse `json:"results"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/gemm/batch", body, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Scenarios runs the server's scenario suite. A failing suite is not an
// error: the report is returned with passed set to false.
func (c *Client) Scenarios(ctx context.Context) (results []ScenarioResult, passed bool, err error) {
	code, err := c.do(ctx, http.MethodPost, "/scenarios", nil, &results, http.StatusOK, http.StatusUnprocessableEntity)
	if err != nil {
		return nil, false, err
	}
	return results, code == http.StatusOK, nil
}

// SendRequest posts a raw JSON body to path and returns the response. The
// caller closes the body.
func (c *Client) SendRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.privateKey != nil {
		if err := auth.SignRequest(req, body, c.privateKey); err != nil {
			return nil, err
		}
	}
	return c.client.Do(req)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, v any, accept ...int) (int, error) {
	resp, err := c.SendRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	for _, code := range accept {
		if resp.StatusCode == code {
			if err := json.Unmarshal(data, v); err != nil {
				return code, fmt.Errorf("failed to decode response: %w", err)
			}
			return code, nil
		}
	}
	return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}
