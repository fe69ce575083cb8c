package repository

import (
	"database/sql"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// ContactRepositoryInterface defines methods used by the dispatch service
type ContactRepositoryInterface interface {
	GetByID(id int) (*model.Contact, error)
	ListByCampaign(campaignID int) ([]model.Contact, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(id int) (*model.Contact, error) {
	query := `
        SELECT id, phone, first_name, last_name, location, preferred_product
        FROM contacts
        WHERE id = $1
    `
	row := r.DB.QueryRow(query, id)

	var c model.Contact
	if err := row.Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName, &c.Location, &c.PreferredProduct); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

// ListByCampaign resolves the recipient set of a campaign through the
// campaign_recipients join table.
func (r *ContactRepository) ListByCampaign(campaignID int) ([]model.Contact, error) {
	query := `
        SELECT c.id, c.phone, c.first_name, c.last_name, c.location, c.preferred_product
        FROM contacts c
        JOIN campaign_recipients cr ON cr.contact_id = c.id
        WHERE cr.campaign_id = $1
        ORDER BY c.id
    `
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName, &c.Location, &c.PreferredProduct); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
