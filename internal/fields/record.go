// Package fields defines the closed-schema record produced by receipt
// analysis and re-validated at submission time.
package fields

import (
	"fmt"
	"time"
)

// Record is the canonical structured output of a receipt analysis.
type Record struct {
	Vendor          string  `json:"vendor"`
	Total           string  `json:"total"`
	TransactionDate string  `json:"transactionDate"`
	Address         string  `json:"address"`
	Phone           string  `json:"phone"`
	Subtotal        string  `json:"subtotal"`
	Tax             string  `json:"tax"`
	Confidence      float64 `json:"confidence,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// Degraded returns the record substituted when analysis fails: empty field
// values with an explicit error marker.
func Degraded(message string) Record {
	return Record{Error: message}
}

// Demo returns the fixed record served when no analysis service is
// configured. The transaction date is the current date.
func Demo(now time.Time) Record {
	return Record{
		Vendor:          "Demo Store",
		Total:           "12.34",
		TransactionDate: now.UTC().Format("2006-01-02"),
		Confidence:      1,
	}
}

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
)

// schema is the closed set of accepted field names. Anything outside it is
// rejected at submission time, so attacker-added keys never reach the
// external record store.
var schema = map[string]valueKind{
	"vendor":          kindString,
	"total":           kindString,
	"transactionDate": kindString,
	"address":         kindString,
	"phone":           kindString,
	"subtotal":        kindString,
	"tax":             kindString,
	"confidence":      kindNumber,
	"error":           kindString,
}

// Sanitize validates a client-edited field map against the closed schema and
// returns a clean Record. The confidence and error markers are accepted (so a
// record produced by analysis round-trips unchanged) but are not carried into
// the submitted fields.
func Sanitize(raw map[string]any) (Record, error) {
	var rec Record
	for name, value := range raw {
		kind, ok := schema[name]
		if !ok {
			return Record{}, fmt.Errorf("unknown field %q", name)
		}
		switch kind {
		case kindString:
			s, ok := value.(string)
			if !ok {
				return Record{}, fmt.Errorf("field %q must be a string", name)
			}
			switch name {
			case "vendor":
				rec.Vendor = s
			case "total":
				rec.Total = s
			case "transactionDate":
				rec.TransactionDate = s
			case "address":
				rec.Address = s
			case "phone":
				rec.Phone = s
			case "subtotal":
				rec.Subtotal = s
			case "tax":
				rec.Tax = s
			}
		case kindNumber:
			if _, ok := value.(float64); !ok {
				return Record{}, fmt.Errorf("field %q must be a number", name)
			}
		}
	}
	return rec, nil
}
