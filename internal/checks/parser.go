package checks

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// ParseResult holds the normalized output from a parser.
type ParseResult struct {
	Findings []finding.Finding
	// Skipped holds one error per record that could not be decoded.
	Skipped []error
	// Notes are tool-reported problems that did not stop the run,
	// e.g. files the tool could not parse.
	Notes []string
}

// Parser converts raw tool output into findings. An error means the
// document as a whole was unusable.
type Parser interface {
	Parse(stdout string, stderr string) (ParseResult, error)
}

// decodeRecords splits a JSON array into raw records so one bad element
// does not sink the rest.
func decodeRecords(data []byte) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// decodeEach unmarshals every record into T, collecting per-record errors.
func decodeEach[T any](records []json.RawMessage, fn func(T, json.RawMessage)) []error {
	var skipped []error
	for i, raw := range records {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			skipped = append(skipped, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		fn(v, raw)
	}
	return skipped
}

func emptyOutput(stdout string) bool {
	for _, c := range stdout {
		if c != ' ' && c != '\n' && c != '\t' && c != '\r' {
			return false
		}
	}
	return true
}
