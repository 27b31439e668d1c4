package company

import (
	"strings"
	"time"
)

// defaultIndustry fills the identity clause when a company has no industry.
const defaultIndustry = "technology"

// Metadata is the flat projection of a Company stored alongside its vector.
// Values are always string or int64; the index rejects nulls.
type Metadata map[string]any

// BuildDocument renders c as a single natural-language document for
// embedding. Clauses appear in a fixed order and any clause whose source
// field is blank is omitted:
//
//	identity, location, description, services, technologies,
//	specializations, tagline, budget/timeline
//
// One document is produced per company; profiles are never chunked.
func BuildDocument(c Company) string {
	var clauses []string
	add := func(s string) {
		s = strings.TrimRight(strings.TrimSpace(s), ". ")
		if s != "" {
			clauses = append(clauses, s)
		}
	}

	if name := strings.TrimSpace(c.Name); name != "" {
		industry := strings.TrimSpace(c.Industry)
		if industry == "" {
			industry = defaultIndustry
		}
		add(name + " is a " + industry + " company")
	}
	if loc := strings.TrimSpace(c.Location); loc != "" {
		add("Based in " + loc)
	}
	add(c.Description)
	if s := joinList(c.Services); s != "" {
		add("Services offered: " + s)
	}
	if s := joinList(c.Technologies); s != "" {
		add("Technologies used: " + s)
	}
	if s := joinList(c.Specializations); s != "" {
		add("Specializes in " + s)
	}
	add(c.Tagline)

	var terms []string
	if cost := strings.TrimSpace(c.CostRange); cost != "" {
		terms = append(terms, "Typical project budget: "+cost)
	}
	if dur := strings.TrimSpace(c.DeliveryDuration); dur != "" {
		if len(terms) == 0 {
			terms = append(terms, "Typical delivery time: "+dur)
		} else {
			terms = append(terms, "typical delivery time: "+dur)
		}
	}
	add(strings.Join(terms, ", "))

	if len(clauses) == 0 {
		return ""
	}
	return strings.Join(clauses, ". ") + "."
}

// BuildMetadata flattens c into index-safe scalars. Every key is always
// present: missing strings become "", lists are comma-joined, and a missing
// employee count becomes 0.
func BuildMetadata(c Company) Metadata {
	created := ""
	if !c.CreatedAt.IsZero() {
		created = c.CreatedAt.UTC().Format(time.RFC3339)
	}
	return Metadata{
		"id":               c.ID,
		"userId":           c.UserID,
		"name":             strings.TrimSpace(c.Name),
		"email":            strings.TrimSpace(c.Email),
		"description":      strings.TrimSpace(c.Description),
		"industry":         strings.TrimSpace(c.Industry),
		"location":         strings.TrimSpace(c.Location),
		"services":         joinList(c.Services),
		"technologies":     joinList(c.Technologies),
		"specializations":  joinList(c.Specializations),
		"tagline":          strings.TrimSpace(c.Tagline),
		"costRange":        strings.TrimSpace(c.CostRange),
		"deliveryDuration": strings.TrimSpace(c.DeliveryDuration),
		"employeeCount":    int64(max(c.EmployeeCount, 0)),
		"logoUrl":          strings.TrimSpace(c.LogoURL),
		"createdAt":        created,
	}
}

// joinList trims each element, drops blanks, and joins with ", ".
func joinList(items []string) string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, ", ")
}
