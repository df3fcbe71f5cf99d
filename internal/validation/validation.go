// Package validation provides startup validation for extractor settings.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidateChainID validates a chain ID
func ValidateChainID(chainID uint64) error {
	if chainID == 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}

// ValidateChainIDs validates a list of chain IDs. Repeated ids are rejected
// since each chain gets exactly one worker.
func ValidateChainIDs(chainIDs []uint64) error {
	seen := make(map[uint64]struct{}, len(chainIDs))
	for _, id := range chainIDs {
		if err := ValidateChainID(id); err != nil {
			return err
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("chain ID %d listed more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ValidateBaseURL validates a service base URL: http or https with a host.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid URL %q: query and fragment are not allowed", raw)
	}
	return nil
}

// ValidateLogFormat validates a log format name
func ValidateLogFormat(format string) error {
	switch strings.ToLower(format) {
	case "text", "json", "auto":
		return nil
	default:
		return fmt.Errorf("invalid log format %q: must be text, json or auto", format)
	}
}
