package guard

import (
	"errors"
	"strings"

	payoutdomain "github.com/playgroundx/settlement/internal/payout/domain"
)

var (
	ErrMissingCreator  = errors.New("candidate_missing_creator")
	ErrMissingCurrency = errors.New("candidate_missing_currency")
	ErrBelowMinimum    = errors.New("candidate_below_minimum")
	ErrNotProcessing   = errors.New("batch_not_processing")
)

// EnsureCandidateCanBuild rejects candidates a payout build would skip anyway.
func EnsureCandidateCanBuild(candidate payoutdomain.Candidate, minimum int64) error {
	if strings.TrimSpace(candidate.CreatorID) == "" {
		return ErrMissingCreator
	}
	if strings.TrimSpace(candidate.Currency) == "" {
		return ErrMissingCurrency
	}
	if candidate.Amount < minimum {
		return ErrBelowMinimum
	}
	return nil
}

func EnsureBatchProcessing(status payoutdomain.BatchStatus) error {
	if status != payoutdomain.BatchStatusProcessing {
		return ErrNotProcessing
	}
	return nil
}
