// Package ethbytecodedb provides a Go client for the eth-bytecode-db
// verification service.
package ethbytecodedb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VerifySolidityStandardJSONPath is the HTTP route of the standard-json
// verification RPC.
const VerifySolidityStandardJSONPath = "/api/v2/verifier/solidity/sources:verify-standard-json"

// BytecodeType distinguishes creation input from deployed bytecode.
type BytecodeType string

const (
	BytecodeTypeCreationInput    BytecodeType = "CREATION_INPUT"
	BytecodeTypeDeployedBytecode BytecodeType = "DEPLOYED_BYTECODE"
)

// Verification statuses reported by the service.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Client is an eth-bytecode-db API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    *time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the per-call timeout; zero disables it. A client passed
// through WithHTTPClient is copied, never modified.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.timeout = &d
	}
}

// New creates a new eth-bytecode-db client
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.timeout != nil {
		hc := *c.httpClient
		hc.Timeout = *c.timeout
		c.httpClient = &hc
	}

	return c
}

// VerifySolidityStandardJSONRequest is a standard-json verification request
type VerifySolidityStandardJSONRequest struct {
	Bytecode        string       `json:"bytecode"`
	BytecodeType    BytecodeType `json:"bytecodeType"`
	CompilerVersion string       `json:"compilerVersion"`
	Input           string       `json:"input"`
	Metadata        *string      `json:"metadata,omitempty"`
}

// VerifyResponse acknowledges a verification request
type VerifyResponse struct {
	Message   string          `json:"message"`
	Status    string          `json:"status"`
	Source    json.RawMessage `json:"source,omitempty"`
	ExtraData json.RawMessage `json:"extraData,omitempty"`
}

// RPCError is returned when a verification call could not be completed.
// StatusCode is zero for transport failures.
type RPCError struct {
	Method     string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *RPCError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s: HTTP %d: %s: %s", e.Method, e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Method, e.StatusCode, e.Message)
	}
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// VerifySolidityStandardJSON submits a standard-json verification request.
// The call is never retried.
func (c *Client) VerifySolidityStandardJSON(ctx context.Context, req *VerifySolidityStandardJSONRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, "VerifySolidityStandardJson", VerifySolidityStandardJSONPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, method, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return &RPCError{Method: method, Err: fmt.Errorf("encoding request: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return &RPCError{Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(method, req, result)
}

func (c *Client) do(method string, req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RPCError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseError(method, resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &RPCError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

// parseError understands both the gateway's {"code","message"} body and
// plain-text error bodies.
func (c *Client) parseError(method string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &errResp); err != nil || errResp.Message == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &RPCError{Method: method, StatusCode: resp.StatusCode, Message: msg}
	}
	return &RPCError{
		Method:     method,
		StatusCode: resp.StatusCode,
		Code:       strings.Trim(string(errResp.Code), `"`),
		Message:    errResp.Message,
	}
}
