package record

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidRecord is returned when a record misses identity fields.
	ErrInvalidRecord = errors.New("record: invalid record")
	// ErrInvalidValue is returned when a patch value is not numeric.
	ErrInvalidValue = errors.New("record: invalid value")
)

// ValueKind selects the literal encoding of a record value.
type ValueKind uint8

const (
	// Integer values are encoded with an "i" suffix, e.g. 123i.
	Integer ValueKind = iota
	// Float values are encoded as plain decimals, e.g. 1.5.
	Float
)

// String returns the kind name.
func (k ValueKind) String() string {
	if k == Integer {
		return "integer"
	}
	return "float"
}

// Record is one typed value written to the time-series store.
type Record struct {
	Measurement string
	Tags        map[string]string
	Field       string
	Value       float64
	Kind        ValueKind
	At          time.Time
}

// Validate checks the record identity.
func (r Record) Validate() error {
	if r.Measurement == "" || r.Field == "" || r.At.IsZero() {
		return ErrInvalidRecord
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: %s.%s is not finite", ErrInvalidRecord, r.Measurement, r.Field)
	}
	return nil
}

// IntValue returns the value as a whole number.
func (r Record) IntValue() int64 { return int64(math.Round(r.Value)) }

// Literal renders the value with its kind-specific encoding.
func (r Record) Literal() string {
	if r.Kind == Integer {
		return strconv.FormatInt(r.IntValue(), 10) + "i"
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// TagString renders the tags as sorted key=value pairs joined by commas.
func (r Record) TagString() string {
	keys := r.tagKeys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, escapeKey.Replace(k)+"="+escapeKey.Replace(r.Tags[k]))
	}
	return strings.Join(parts, ",")
}

// Key identifies the series point a record overwrites: measurement, tags,
// field and timestamp.
func (r Record) Key() string {
	return r.Measurement + "," + r.TagString() + " " + r.Field + " " + strconv.FormatInt(r.At.Unix(), 10)
}

func (r Record) tagKeys() []string {
	keys := make([]string, 0, len(r.Tags))
	for k := range r.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var escapeKey = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)

// Sort orders records by timestamp, then by key.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].At.Equal(records[j].At) {
			return records[i].At.Before(records[j].At)
		}
		return records[i].Key() < records[j].Key()
	})
}
