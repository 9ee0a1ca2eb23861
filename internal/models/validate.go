package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a provider record against the expected shape
func (m *EmailMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid email record %q: %w", m.ID, err)
	}
	return nil
}

// Validate checks a sync start response
func (r *SyncStartResponse) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid sync start response: %w", err)
	}
	return nil
}

// Validate checks an updated-records page, including every record on it
func (r *SyncUpdatedResponse) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid sync updated response: %w", err)
	}
	return nil
}

// ValidateMessages validates every record and returns the first failure
func ValidateMessages(msgs []EmailMessage) error {
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
