package conversions

import (
	"math"
	"strings"
	"time"

	"github.com/ignite/conversion-sync/internal/domain"
)

// Handle is the read-only view of an authenticated platform client the
// mapper needs to scope events to an account.
type Handle interface {
	CustomerID() string
	// ConversionAction returns the resource name for a conversion action.
	ConversionAction(name string) string
}

// Client is an authenticated platform handle: it scopes events and
// accepts uploads. One Client is built per run and shared read-only.
type Client interface {
	Handle
	Endpoint
}

// Mapper converts raw warehouse rows into platform events. It holds no
// mutable state and is safe for concurrent use.
type Mapper struct {
	handle Handle
}

// NewMapper returns a Mapper that scopes events through h.
func NewMapper(h Handle) *Mapper {
	return &Mapper{handle: h}
}

// Map validates raw and builds its event. It fails with a *MappingError
// when a required field is missing or malformed.
func (m *Mapper) Map(raw domain.RawRecord) (domain.MappedEvent, error) {
	if missing := raw.MissingFields(); len(missing) > 0 {
		return domain.MappedEvent{}, &MappingError{Position: raw.Position, OrderID: raw.TransactionID, Fields: missing}
	}
	if reason := malformed(raw); reason != "" {
		return domain.MappedEvent{}, &MappingError{Position: raw.Position, OrderID: raw.TransactionID, Reason: reason}
	}

	ev := domain.MappedEvent{
		ConversionAction:   m.handle.ConversionAction(raw.ConversionName),
		ConversionDateTime: raw.ConversionTime.Format(domain.ConversionTimeLayout),
		ConversionValue:    *raw.Value,
		CurrencyCode:       raw.CurrencyCode,
		OrderID:            raw.TransactionID,
		UserIdentifiers: []domain.UserIdentifier{
			{HashedEmail: raw.Email},
			{HashedPhoneNumber: raw.Phone},
		},
		Origin: raw,
	}
	switch raw.ClickIDKind {
	case domain.ClickGBRAID:
		ev.Gbraid = raw.ClickID
	case domain.ClickWBRAID:
		ev.Wbraid = raw.ClickID
	default:
		ev.Gclid = raw.ClickID
	}
	return ev, nil
}

func malformed(raw domain.RawRecord) string {
	if !raw.ClickIDKind.Valid() {
		return "unknown click id kind " + string(raw.ClickIDKind)
	}
	if len(raw.CurrencyCode) != 3 {
		return "currency code " + raw.CurrencyCode + " is not a 3 letter ISO 4217 code"
	}
	v := *raw.Value
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return "conversion value must be a finite non-negative number"
	}
	return ""
}

// Remap rebuilds a raw record from a rejected event's own fields, backfills
// anything the event does not carry from its Origin, and maps it again.
// The new event's Attempt is one more than ev's.
func (m *Mapper) Remap(ev domain.MappedEvent) (domain.MappedEvent, error) {
	raw := reconstruct(ev)
	backfill(&raw, ev.Origin)

	out, err := m.Map(raw)
	if err != nil {
		return domain.MappedEvent{}, err
	}
	if !isZeroRecord(ev.Origin) {
		out.Origin = ev.Origin
	}
	out.Attempt = ev.Attempt + 1
	return out, nil
}

func reconstruct(ev domain.MappedEvent) domain.RawRecord {
	raw := domain.RawRecord{
		Position:       ev.Origin.Position,
		TransactionID:  ev.OrderID,
		ConversionName: actionName(ev.ConversionAction),
		CurrencyCode:   ev.CurrencyCode,
		Value:          domain.Float(ev.ConversionValue),
	}
	if t, err := time.Parse(domain.ConversionTimeLayout, ev.ConversionDateTime); err == nil {
		raw.ConversionTime = t
	}
	raw.ClickID, raw.ClickIDKind = ev.ClickID()

	// One identity is recovered; email wins when the event carries both.
	for _, id := range ev.UserIdentifiers {
		if id.HashedEmail != "" {
			raw.Email = id.HashedEmail
			break
		}
	}
	if raw.Email == "" {
		for _, id := range ev.UserIdentifiers {
			if id.HashedPhoneNumber != "" {
				raw.Phone = id.HashedPhoneNumber
				break
			}
		}
	}
	return raw
}

func backfill(raw *domain.RawRecord, origin domain.RawRecord) {
	if raw.ConversionTime.IsZero() {
		raw.ConversionTime = origin.ConversionTime
	}
	if raw.TransactionID == "" {
		raw.TransactionID = origin.TransactionID
	}
	if raw.Email == "" {
		raw.Email = origin.Email
	}
	if raw.Phone == "" {
		raw.Phone = origin.Phone
	}
	if raw.ConversionName == "" {
		raw.ConversionName = origin.ConversionName
	}
	if raw.CurrencyCode == "" {
		raw.CurrencyCode = origin.CurrencyCode
	}
	if raw.ClickID == "" {
		raw.ClickID, raw.ClickIDKind = origin.ClickID, origin.ClickIDKind
	}
	if raw.Value == nil {
		raw.Value = origin.Value
	}
}

func actionName(resource string) string {
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		return resource[i+1:]
	}
	return resource
}

func isZeroRecord(r domain.RawRecord) bool {
	return r.TransactionID == "" && r.ConversionTime.IsZero() && r.Value == nil
}
