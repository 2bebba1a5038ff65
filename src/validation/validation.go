package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"invoice-ingest/src/contracts"
)

// MaxIDLength bounds external_id and customer_id.
const MaxIDLength = 64

// DefaultMaxBatchSize is used when a non-positive maximum is supplied.
const DefaultMaxBatchSize = 40000

// Error reports why a request was rejected. Fields maps a field path such as
// "invoices.3.total" to its messages. It matches contracts.ErrValidation, or
// contracts.ErrAuthentication when produced by Authenticate.
type Error struct {
	Message string
	Fields  map[string][]string

	kind  error
	cause error
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	first := e.FieldNames()[0]
	return fmt.Sprintf("%s: %s", e.Message, e.Fields[first][0])
}

// Unwrap exposes the category sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// FieldNames returns the invalid fields in sorted order.
func (e *Error) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Error) add(field, format string, args ...any) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], fmt.Sprintf(format, args...))
}

func authError(cause error) *Error {
	return &Error{Message: "Unauthorized.", kind: contracts.ErrAuthentication, cause: cause}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var ve *Error
	ok := errors.As(err, &ve)
	return ve, ok
}

var validSources = map[string]bool{"json": true, "csv": true}

// DecodeBatch parses and validates a request body. On success the returned
// payload holds each invoice object byte-for-byte as submitted, in submission
// order. maxBatchSize caps the number of invoices.
func DecodeBatch(body []byte, maxBatchSize int) (contracts.BatchPayload, error) {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}

	verr := &Error{Message: "The given data was invalid.", kind: contracts.ErrValidation}

	doc, err := decodeObject(body)
	if err != nil {
		verr.Message = "The request body must be a JSON object."
		verr.cause = err
		return contracts.BatchPayload{}, verr
	}

	var payload contracts.BatchPayload

	if raw, ok := doc["source"]; ok && !isNull(raw) {
		var source string
		if err := json.Unmarshal(raw, &source); err != nil || !validSources[source] {
			verr.add("source", "The selected source is invalid.")
		} else {
			payload.Source = source
		}
	}

	var items []json.RawMessage
	raw, ok := doc["invoices"]
	switch {
	case !ok || isNull(raw):
		verr.add("invoices", "The invoices field is required.")
	case json.Unmarshal(raw, &items) != nil:
		verr.add("invoices", "The invoices field must be an array of objects.")
	case len(items) == 0:
		verr.add("invoices", "The invoices field is required.")
	case len(items) > maxBatchSize:
		verr.add("invoices", "The invoices field must not have more than %d items.", maxBatchSize)
	default:
		for i, item := range items {
			checkInvoice(verr, i, item)
		}
		payload.Invoices = items
	}

	if len(verr.Fields) > 0 {
		return contracts.BatchPayload{}, verr
	}
	return payload, nil
}

// decodeObject reads exactly one JSON object from body.
func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("body is null")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after the JSON object")
	}
	return doc, nil
}

// checkInvoice validates a parsed copy of item. item itself is never modified.
func checkInvoice(verr *Error, i int, item json.RawMessage) {
	prefix := fmt.Sprintf("invoices.%d.", i)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		verr.add(strings.TrimSuffix(prefix, "."), "The invoice must be an object.")
		return
	}

	boundedString(verr, prefix+"external_id", fields["external_id"], MaxIDLength)
	boundedString(verr, prefix+"customer_id", fields["customer_id"], MaxIDLength)

	if s, ok := requiredString(verr, prefix+"issued_at", fields["issued_at"]); ok && !isDate(s) {
		verr.add(prefix+"issued_at", "The %sissued_at field must be a valid date.", prefix)
	}

	nonNegativeNumber(verr, prefix+"total", fields["total"])

	if s, ok := requiredString(verr, prefix+"currency", fields["currency"]); ok && utf8.RuneCountInString(s) != 3 {
		verr.add(prefix+"currency", "The %scurrency field must be 3 characters.", prefix)
	}
}

func requiredString(verr *Error, field string, raw json.RawMessage) (string, bool) {
	if raw == nil || isNull(raw) {
		verr.add(field, "The %s field is required.", field)
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		verr.add(field, "The %s field must be a string.", field)
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		verr.add(field, "The %s field is required.", field)
		return "", false
	}
	return s, true
}

func boundedString(verr *Error, field string, raw json.RawMessage, max int) {
	s, ok := requiredString(verr, field, raw)
	if ok && utf8.RuneCountInString(s) > max {
		verr.add(field, "The %s field must not be greater than %d characters.", field, max)
	}
}

// nonNegativeNumber accepts JSON numbers and numeric strings. The parsed value
// is only compared against zero.
func nonNegativeNumber(verr *Error, field string, raw json.RawMessage) {
	if raw == nil || isNull(raw) {
		verr.add(field, "The %s field is required.", field)
		return
	}

	var text string
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		text = num.String()
	} else if err := json.Unmarshal(raw, &text); err != nil {
		verr.add(field, "The %s field must be a number.", field)
		return
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		verr.add(field, "The %s field must be a number.", field)
		return
	}
	if v < 0 {
		verr.add(field, "The %s field must be at least 0.", field)
	}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func isDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
