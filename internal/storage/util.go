package storage

import (
	"strconv"

	"github.com/google/uuid"
)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// NewRunID returns an identifier for one extractor run
func NewRunID() string {
	return uuid.New().String()
}

func formatChainID(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

func parseChainID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
