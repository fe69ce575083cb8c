// internal/errors/errors.go
package appErrors

import "fmt"

// Reason codes surfaced to the caller when a dispatch is blocked pre-flight.
const (
	ReasonInactiveEntitlement = "inactive_entitlement"
	ReasonInsufficientCredits = "insufficient_credits"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrDispatchBlocked means a pre-flight validation failed and no side
// effects were created.
type ErrDispatchBlocked struct {
	Reason string
}

func (e *ErrDispatchBlocked) Error() string {
	return fmt.Sprintf("dispatch blocked: %s", e.Reason)
}

func NewDispatchBlocked(reason string) error {
	return &ErrDispatchBlocked{Reason: reason}
}

// ErrInsufficientCredits is returned by the ledger when a debit would take
// the balance below zero.
type ErrInsufficientCredits struct {
	Owner     string
	Requested int
	Balance   int
}

func (e *ErrInsufficientCredits) Error() string {
	return fmt.Sprintf("insufficient credits for %s: requested %d, balance %d", e.Owner, e.Requested, e.Balance)
}

func NewInsufficientCredits(owner string, requested, balance int) error {
	return &ErrInsufficientCredits{Owner: owner, Requested: requested, Balance: balance}
}
