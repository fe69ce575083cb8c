// internal/service/entitlement.go
package service

import (
	"database/sql"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// EntitlementChecker is the external eligibility gate consulted before any
// dispatch side effects.
type EntitlementChecker interface {
	IsEligible(ownerID string) (bool, error)
}

// AccountEntitlements reads the active flag off the accounts table. A
// missing account is not eligible.
type AccountEntitlements struct {
	DB *sql.DB
}

func (e *AccountEntitlements) IsEligible(ownerID string) (bool, error) {
	var active bool
	err := e.DB.QueryRow(`SELECT active FROM accounts WHERE owner_id=$1`, ownerID).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

var _ EntitlementChecker = (*AccountEntitlements)(nil)

// RecipientResolver supplies the resolved recipient set for a campaign.
type RecipientResolver interface {
	Resolve(campaignID int) ([]model.Contact, error)
}

// ContactResolver resolves recipients from the contact store.
type ContactResolver struct {
	Contacts repository.ContactRepositoryInterface
}

func (r *ContactResolver) Resolve(campaignID int) ([]model.Contact, error) {
	return r.Contacts.ListByCampaign(campaignID)
}

var _ RecipientResolver = (*ContactResolver)(nil)
