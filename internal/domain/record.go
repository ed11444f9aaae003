package domain

import (
	"errors"
	"time"
)

// ErrNoRows is returned by a row source when the selected table holds no
// conversions. An empty extraction is a failure, never an empty success.
var ErrNoRows = errors.New("source table has no rows")

// ClickIDKind selects which click identifier field a click id is sent as.
type ClickIDKind string

const (
	ClickGCLID  ClickIDKind = "gclid"
	ClickGBRAID ClickIDKind = "gbraid"
	ClickWBRAID ClickIDKind = "wbraid"
)

// Valid reports whether k is a known kind. The empty kind is valid and
// means gclid.
func (k ClickIDKind) Valid() bool {
	switch k {
	case "", ClickGCLID, ClickGBRAID, ClickWBRAID:
		return true
	}
	return false
}

// RawRecord is one warehouse row.
type RawRecord struct {
	Position       int         `json:"position"`
	ConversionTime time.Time   `json:"conversion_time"`
	TransactionID  string      `json:"transaction_id"`
	Email          string      `json:"email"`
	Phone          string      `json:"phone"`
	ConversionName string      `json:"conversion_name"`
	CurrencyCode   string      `json:"currency_code"`
	ClickID        string      `json:"click_id,omitempty"`
	ClickIDKind    ClickIDKind `json:"click_id_kind,omitempty"`
	Value          *float64    `json:"value"`
}

// MissingFields returns the names of required fields that are empty.
// ClickID is optional.
func (r RawRecord) MissingFields() []string {
	var missing []string
	if r.ConversionTime.IsZero() {
		missing = append(missing, "conversion_time")
	}
	if r.TransactionID == "" {
		missing = append(missing, "transaction_id")
	}
	if r.Email == "" {
		missing = append(missing, "email")
	}
	if r.Phone == "" {
		missing = append(missing, "phone")
	}
	if r.ConversionName == "" {
		missing = append(missing, "conversion_name")
	}
	if r.CurrencyCode == "" {
		missing = append(missing, "currency_code")
	}
	if r.Value == nil {
		missing = append(missing, "value")
	}
	return missing
}

// Float returns a pointer to v. Handy for building records in code.
func Float(v float64) *float64 { return &v }
