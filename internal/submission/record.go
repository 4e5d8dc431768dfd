package submission

import (
	"fmt"
	"strings"
)

// Record is one fully-parsed intake row. Every cell of the source is
// treated as untyped text at the boundary and normalized (trimmed,
// nil-to-empty) exactly once, here; downstream components never
// re-normalize.
type Record struct {
	Timestamp      string
	Email          string
	LeaderFirst    string
	LeaderLast     string
	FollowerFirst  string
	FollowerLast   string
	Division       string
	RoutineName    string
	Descriptor     string
	AudioReference string
}

// MalformedRowError indicates a row too short to satisfy the schema. It is
// fatal for the row it describes, but never for the surrounding run.
type MalformedRowError struct {
	Expected int
	Actual   int
}

func (err MalformedRowError) Error() string {
	return fmt.Sprintf("row too short: expected >= %d columns, found %d", err.Expected, err.Actual)
}

func normalizeCell(value string) string {
	return strings.TrimSpace(value)
}

// ParseRecord parses a raw row in to a Record using the positional layout
// described by the schema provided. Returns a MalformedRowError if the row
// holds fewer cells than the schema describes.
func ParseRecord(schema Schema, row []string) (*Record, error) {
	if len(row) < schema.InputColumnCount() {
		return nil, MalformedRowError{Expected: schema.InputColumnCount(), Actual: len(row)}
	}

	cell := func(name string) string {
		idx, err := schema.Index(name)
		if err != nil {
			return ""
		}

		return normalizeCell(row[idx])
	}

	return &Record{
		Timestamp:      cell(FieldTimestamp),
		Email:          cell(FieldEmail),
		LeaderFirst:    cell(FieldLeaderFirst),
		LeaderLast:     cell(FieldLeaderLast),
		FollowerFirst:  cell(FieldFollowerFirst),
		FollowerLast:   cell(FieldFollowerLast),
		Division:       cell(FieldDivision),
		RoutineName:    cell(FieldRoutineName),
		Descriptor:     cell(FieldDescriptor),
		AudioReference: cell(FieldAudioReference),
	}, nil
}
