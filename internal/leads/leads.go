// Package leads persists lead-capture submissions.
package leads

import (
	"errors"
	"strings"

	"cosmosai/internal/domain"
)

var (
	// ErrInvalidLead reports a submission without a name or mobile number.
	ErrInvalidLead = errors.New("name and mobile are required")
	// ErrNotFound is returned when a lead id is unknown.
	ErrNotFound = errors.New("lead not found")
)

// Normalize trims the submission and checks required fields.
func Normalize(input domain.LeadInput) (domain.LeadInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Mobile = strings.TrimSpace(input.Mobile)
	input.Description = strings.TrimSpace(input.Description)
	if input.Name == "" || input.Mobile == "" {
		return domain.LeadInput{}, ErrInvalidLead
	}
	return input, nil
}
