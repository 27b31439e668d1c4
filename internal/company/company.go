// Package company defines the Company record owned by the relational store
// and the pure functions that project it into the search pipeline: the
// natural-language embedding document and the flat vector-index metadata.
package company

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure returned from Validate.
var ErrInvalid = errors.New("invalid company")

// Company is a service provider listed on the marketplace.
// At most one Company exists per owning user.
type Company struct {
	// ID is the UUID primary key. It doubles as the vector index point id.
	ID string `json:"id"`
	// UserID is the owning user account. Unique across companies.
	UserID string `json:"userId"`
	// Name is the display name of the company.
	Name string `json:"name"`
	// Email is the public contact address.
	Email string `json:"email,omitempty"`
	// Description is the free-text company profile.
	Description string `json:"description,omitempty"`
	// Industry is the sector label (e.g. "software", "robotics").
	Industry string `json:"industry,omitempty"`
	// Location is a free-text city/region/country.
	Location string `json:"location,omitempty"`
	// Services lists the services the company sells.
	Services []string `json:"services,omitempty"`
	// Technologies lists the technologies the company works with.
	Technologies []string `json:"technologies,omitempty"`
	// Specializations lists niche areas of expertise.
	Specializations []string `json:"specializations,omitempty"`
	// Tagline is a one-line marketing statement.
	Tagline string `json:"tagline,omitempty"`
	// CostRange is the typical project budget (e.g. "$10k-$50k").
	CostRange string `json:"costRange,omitempty"`
	// DeliveryDuration is the typical project timeline (e.g. "3-6 months").
	DeliveryDuration string `json:"deliveryDuration,omitempty"`
	// EmployeeCount is the headcount. Zero means unknown.
	EmployeeCount int `json:"employeeCount,omitempty"`
	// SocialLinks maps a network name ("linkedin", "website") to a URL.
	SocialLinks map[string]string `json:"socialLinks,omitempty"`
	// LogoURL points at the hosted logo image.
	LogoURL string `json:"logoUrl,omitempty"`
	// CreatedAt is set by the store on insert.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is set by the store on every write.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the fields the store relies on. It does not check URLs or
// email syntax.
func (c *Company) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	if c.EmployeeCount < 0 {
		return fmt.Errorf("%w: employeeCount must be >= 0, got %d", ErrInvalid, c.EmployeeCount)
	}
	return nil
}
