// Package extractor moves verified contracts for one chain from the Sourcify
// registry to the eth-bytecode-db verification service.
package extractor

import (
	"context"

	"github.com/pendergraft/sourcify-extractor/internal/sourcify"
	"github.com/pendergraft/sourcify-extractor/internal/storage"
	"github.com/pendergraft/sourcify-extractor/pkg/ethbytecodedb"
)

// Outcome is the result of processing one contract.
type Outcome string

const (
	OutcomeVerified Outcome = storage.StatusVerified
	OutcomeSkipped  Outcome = storage.StatusSkipped
	OutcomeFailed   Outcome = storage.StatusFailed

	// OutcomeAlreadyProcessed is reported when resume is enabled and the
	// ledger already holds a final outcome for the address.
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// Registry defines the registry operations needed by a chain worker.
type Registry interface {
	ListContracts(ctx context.Context, chainID uint64) (*sourcify.ContractList, error)
	GetFullMatch(ctx context.Context, chainID uint64, address string) (*sourcify.ContractInfo, error)
}

// Verifier forwards verification requests.
type Verifier interface {
	VerifySolidityStandardJSON(ctx context.Context, req *ethbytecodedb.VerifySolidityStandardJSONRequest) (*ethbytecodedb.VerifyResponse, error)
}

// Ledger defines the outcome storage operations needed by a chain worker.
type Ledger interface {
	RecordOutcome(ctx context.Context, o *storage.Outcome) error
	GetOutcome(ctx context.Context, chainID uint64, address string) (*storage.Outcome, error)
}

// ChainReport counts what a chain worker did.
type ChainReport struct {
	ChainID          uint64
	ListingFailed    bool
	Addresses        int
	Verified         int
	Skipped          int
	Failed           int
	AlreadyProcessed int
}

func (r *ChainReport) add(o Outcome) {
	switch o {
	case OutcomeVerified:
		r.Verified++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	case OutcomeAlreadyProcessed:
		r.AlreadyProcessed++
	}
}
