// Package deployerr defines the error taxonomy shared by every mpoolctl
// component. Typed errors unwrap to their sentinel so callers classify
// failures with errors.Is.
package deployerr

import (
	"errors"
	"fmt"
	"math/big"
)

// Sentinel errors
var (
	ErrConfigCorrupt     = errors.New("mpoolctl: configuration corrupt")
	ErrInsufficientFunds = errors.New("mpoolctl: insufficient funds")
	ErrDeployFailed      = errors.New("mpoolctl: deploy failed")
	ErrTxReverted        = errors.New("mpoolctl: transaction reverted")

	ErrLaunchpadRejected = errors.New("mpoolctl: launchpad rejected request")
	ErrSchemaMismatch    = errors.New("mpoolctl: response schema mismatch")
	ErrInvalidRequest    = errors.New("mpoolctl: invalid request")

	ErrReferenceUnresolved = errors.New("mpoolctl: reference unresolved")
	ErrContextOverwrite    = errors.New("mpoolctl: context key already set")
	ErrInvalidPlan         = errors.New("mpoolctl: invalid plan")

	ErrVerifyMismatch = errors.New("mpoolctl: verification mismatch")
	ErrAborted        = errors.New("mpoolctl: run aborted")
	ErrInvalidKey     = errors.New("mpoolctl: invalid key name")
)

// InsufficientFundsError reports the signer balance against the required minimum.
type InsufficientFundsError struct {
	Have *big.Int
	Need *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: have %s wei, need %s wei", ErrInsufficientFunds, e.Have, e.Need)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// DeployFailedError carries the reason a contract creation did not produce code.
type DeployFailedError struct {
	Artifact string
	Reason   string
}

func (e *DeployFailedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrDeployFailed, e.Artifact, e.Reason)
}

func (e *DeployFailedError) Unwrap() error { return ErrDeployFailed }

// RejectedError is returned when an HTTP service answers ok=false or an
// HTTP error status. Body holds the raw response.
type RejectedError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", ErrLaunchpadRejected, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", ErrLaunchpadRejected, e.StatusCode, e.Body)
}

func (e *RejectedError) Unwrap() error { return ErrLaunchpadRejected }

// MismatchError describes a failed comparison between an expected and an
// observed value.
type MismatchError struct {
	Check    string
	Expected string
	Observed string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %s: expected %s, observed %s", ErrVerifyMismatch, e.Check, e.Expected, e.Observed)
}

func (e *MismatchError) Unwrap() error { return ErrVerifyMismatch }
