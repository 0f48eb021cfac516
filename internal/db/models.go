package db

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"gorm.io/datatypes"
)

// Row is one database row keyed by column name. Rows are read reflectively
// from live tables, so any column the schema carries survives a clone.
//
// It is an alias rather than a named type so GORM's create callback
// recognises []Row as []map[string]interface{}.
type Row = map[string]interface{}

// Table describes a table the seeder reads templates from and writes clones to.
type Table struct {
	Name string

	// PrimaryKey is the surrogate key column left out of inserts so the
	// database assigns it.
	PrimaryKey string
}

// EventInstances holds one row per monitored event occurrence.
var EventInstances = Table{Name: "event_instances", PrimaryKey: "id"}

// HiveQueries holds per-run hive metadata linked to event_instances by query_id.
var HiveQueries = Table{Name: "hive_queries", PrimaryKey: "id"}

// Column names the seeder overrides on cloned rows.
const (
	ColEventInstanceID = "event_instance_id"
	ColEntityID        = "entity_id"
	ColEntityType      = "entity_type"
	ColEventType       = "event_type"
	ColComment         = "comment"
	ColEventTime       = "event_time"
	ColCreatedAt       = "created_at"
	ColUpdatedAt       = "updated_at"
	ColQueryID         = "query_id"
	ColAnnotation      = "annotation"
)

// Clone copies row without the excluded columns. Values are copied shallowly;
// template values are treated as immutable.
func Clone(row Row, exclude ...string) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	for _, col := range exclude {
		delete(out, col)
	}
	return out
}

// ParseAnnotation decodes the structured annotation column of a detail row.
// The driver may hand the column back as text or bytes.
func ParseAnnotation(value interface{}) (datatypes.JSONMap, error) {
	if value == nil {
		return nil, errors.New("annotation is null")
	}
	if s, ok := value.(string); ok {
		value = []byte(s)
	}

	var m datatypes.JSONMap
	if err := m.Scan(value); err != nil {
		return nil, errors.Wrap(err, "decode annotation")
	}
	return m, nil
}

// JobCount returns the numMRJobs attribute of a hive annotation, or false
// when the attribute is absent or not a number.
func JobCount(annotation datatypes.JSONMap) (int, bool) {
	switch v := annotation["numMRJobs"].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}
