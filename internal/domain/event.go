package domain

// ConversionTimeLayout is the date-time format the upload API expects.
const ConversionTimeLayout = "2006-01-02 15:04:05-07:00"

// UserIdentifier carries one hashed identity. Exactly one field is set.
type UserIdentifier struct {
	HashedEmail       string `json:"hashedEmail,omitempty"`
	HashedPhoneNumber string `json:"hashedPhoneNumber,omitempty"`
}

// MappedEvent is the platform representation of a RawRecord. It is built by
// the mapper and never modified afterwards; a retry produces a new event.
type MappedEvent struct {
	ConversionAction   string           `json:"conversion_action"`
	ConversionDateTime string           `json:"conversion_date_time"`
	ConversionValue    float64          `json:"conversion_value"`
	CurrencyCode       string           `json:"currency_code"`
	OrderID            string           `json:"order_id"`
	Gclid              string           `json:"gclid,omitempty"`
	Gbraid             string           `json:"gbraid,omitempty"`
	Wbraid             string           `json:"wbraid,omitempty"`
	UserIdentifiers    []UserIdentifier `json:"user_identifiers,omitempty"`

	// Origin is the row the event was built from.
	Origin RawRecord `json:"-"`
	// Attempt is 0 for the first mapping and increments on every remap.
	Attempt int `json:"-"`
}

// ClickID returns whichever click identifier is set and its kind.
func (e MappedEvent) ClickID() (string, ClickIDKind) {
	switch {
	case e.Gclid != "":
		return e.Gclid, ClickGCLID
	case e.Gbraid != "":
		return e.Gbraid, ClickGBRAID
	case e.Wbraid != "":
		return e.Wbraid, ClickWBRAID
	}
	return "", ""
}

// OutcomeKind classifies one submitted record after an upload round.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota
	OutcomePermanent
	OutcomeRetryable
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomePermanent:
		return "rejected"
	case OutcomeRetryable:
		return "retryable"
	}
	return "unknown"
}

// UploadOutcome is the classified result for one position in a batch.
type UploadOutcome struct {
	Kind    OutcomeKind
	Code    string
	Message string
}
