// Package sourcify provides typed access to the Sourcify registry endpoints
// used by the extractor.
package sourcify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pendergraft/sourcify-extractor/internal/httpclient"
)

// Getter performs rate-limited GET requests.
type Getter interface {
	Get(ctx context.Context, url string) (*httpclient.Response, error)
}

// ContractList is the listing of verified addresses on a chain.
type ContractList struct {
	Full    []string `json:"full"`
	Partial []string `json:"partial"`
}

// Addresses returns full matches followed by partial matches, in response
// order. Duplicates are kept.
func (l *ContractList) Addresses() []string {
	addresses := make([]string, 0, len(l.Full)+len(l.Partial))
	addresses = append(addresses, l.Full...)
	return append(addresses, l.Partial...)
}

// ContractInfo is the full-match payload for one contract.
type ContractInfo struct {
	Compiler CompilerInfo      `json:"compiler"`
	Language string            `json:"language"`
	Sources  map[string]Source `json:"sources"`
	Settings json.RawMessage   `json:"settings"`
	Files    map[string]string `json:"files"`
}

// CompilerInfo identifies the compiler used for a contract.
type CompilerInfo struct {
	Version string `json:"version"`
}

// Source is a single source file. Fields other than content are dropped.
type Source struct {
	Content string `json:"content"`
}

// DecodeError is returned when a registry response body is not the expected JSON.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Client is a Sourcify registry client
type Client struct {
	baseURL string
	http    Getter
}

// New creates a new registry client rooted at baseURL (e.g. https://sourcify.dev/server).
func New(baseURL string, http Getter) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
	}
}

// ListContracts fetches the verified address listing for a chain.
func (c *Client) ListContracts(ctx context.Context, chainID uint64) (*ContractList, error) {
	var list ContractList
	if err := c.get(ctx, c.ListURL(chainID), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetFullMatch fetches the full-match contract info for an address.
func (c *Client) GetFullMatch(ctx context.Context, chainID uint64, address string) (*ContractInfo, error) {
	var info ContractInfo
	if err := c.get(ctx, c.FullMatchURL(chainID, address), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListURL returns the listing endpoint for a chain.
func (c *Client) ListURL(chainID uint64) string {
	return fmt.Sprintf("%s/contracts/list/%s", c.baseURL, strconv.FormatUint(chainID, 10))
}

// FullMatchURL returns the full-match info endpoint for an address.
func (c *Client) FullMatchURL(chainID uint64, address string) string {
	return fmt.Sprintf("%s/contracts/full_match/%s/%s",
		c.baseURL, strconv.FormatUint(chainID, 10), url.PathEscape(address))
}

func (c *Client) get(ctx context.Context, u string, result any) error {
	resp, err := c.http.Get(ctx, u)
	if err != nil {
		return err
	}
	if err := resp.Decode(result); err != nil {
		return &DecodeError{URL: u, Err: err}
	}
	return nil
}
