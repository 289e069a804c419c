// Package users implements the client for the users microservice.
// It is the only place that knows the service's wire format.
package users

import (
	"fmt"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER DTOs
// ══════════════════════════════════════════════════════════════════════════════

// UserDTO is a user as returned by the users service.
type UserDTO struct {
	ID        int64  `json:"id,omitempty"`
	FirstName string `json:"nombre"`
	LastName  string `json:"apellido"`
	Email     string `json:"email"`
	Phone     string `json:"telefono"`

	// BirthDate is a calendar date, "2006-01-02".
	BirthDate *LocalDate `json:"fechaNacimiento,omitempty"`

	// CreatedAt has no zone on the wire.
	CreatedAt *LocalDateTime `json:"creadoEn,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DATE TYPES
// ══════════════════════════════════════════════════════════════════════════════

const dateLayout = "2006-01-02"

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	dateLayout,
}

// LocalDate is a date without time of day.
type LocalDate struct {
	time.Time
}

// MarshalJSON implements json.Marshaler.
func (d LocalDate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *LocalDate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// LocalDateTime is a timestamp that may arrive without a zone; such values
// are read as UTC.
type LocalDateTime struct {
	time.Time
}

// MarshalJSON implements json.Marshaler.
func (d LocalDateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.UTC().Format(time.RFC3339) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *LocalDateTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q", s)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO is an error response from the users service. Status is always
// set from the HTTP response, the other fields only when the body has them.
type APIErrorDTO struct {
	Status  int    `json:"status"`
	Code    string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		return fmt.Sprintf("users service: status %d", e.Status)
	}
	return fmt.Sprintf("users service: status %d: %s", e.Status, msg)
}

// IsServerError reports a 5xx or 429 response.
func (e *APIErrorDTO) IsServerError() bool {
	return e.Status >= 500 || e.Status == 429
}
