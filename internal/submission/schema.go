package submission

import "fmt"

// Well-known field names used by the default intake schema. Components
// look fields up by name; the schema owns the positional mapping.
const (
	FieldTimestamp      = "timestamp"
	FieldEmail          = "email"
	FieldLeaderFirst    = "leader_first"
	FieldLeaderLast     = "leader_last"
	FieldFollowerFirst  = "follower_first"
	FieldFollowerLast   = "follower_last"
	FieldDivision       = "division"
	FieldRoutineName    = "routine_name"
	FieldDescriptor     = "personal_descriptor"
	FieldAudioReference = "audio_reference"
	FieldAcknowledge    = "acknowledge"
)

type (
	// Field binds a named intake field to it's 0-based column index.
	Field struct {
		Name  string `yaml:"name"`
		Index int    `yaml:"index"`
	}

	// Schema is an explicit, versioned description of the positional layout
	// of the intake source. It replaces the usual trap of scattering
	// module-level column constants throughout the code: the scanner and
	// parser are handed a schema and consult nothing else.
	Schema struct {
		Version int     `yaml:"version"`
		Fields  []Field `yaml:"fields"`

		// CommitMarker is the canonical cell value denoting a committed row.
		CommitMarker string `yaml:"commit_marker"`
	}
)

// DefaultSchema describes version 1 of the intake form layout: eleven
// positional input columns followed by the commit-flag column.
func DefaultSchema() Schema {
	return Schema{
		Version:      1,
		CommitMarker: "X",
		Fields: []Field{
			{FieldTimestamp, 0},
			{FieldEmail, 1},
			{FieldLeaderFirst, 2},
			{FieldLeaderLast, 3},
			{FieldFollowerFirst, 4},
			{FieldFollowerLast, 5},
			{FieldDivision, 6},
			{FieldRoutineName, 7},
			{FieldDescriptor, 8},
			{FieldAudioReference, 9},
			{FieldAcknowledge, 10},
		},
	}
}

// InputColumnCount is the number of positional input columns the
// schema describes (the commit column is not an input column).
func (schema Schema) InputColumnCount() int {
	max := 0
	for _, field := range schema.Fields {
		if field.Index+1 > max {
			max = field.Index + 1
		}
	}

	return max
}

// CommitColumn returns the 1-based column holding the commit flag,
// which sits immediately after the input columns.
func (schema Schema) CommitColumn() int {
	return schema.InputColumnCount() + 1
}

// Index returns the 0-based column index for the named field.
func (schema Schema) Index(name string) (int, error) {
	for _, field := range schema.Fields {
		if field.Name == name {
			return field.Index, nil
		}
	}

	return 0, fmt.Errorf("schema v%d does not describe a field named '%s'", schema.Version, name)
}
