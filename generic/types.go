/*
Package generic provides the storage-agnostic core of the sales ledger.

PURPOSE:
  Everything the domain packages need to talk to a document store without
  knowing which one is behind it: records, collections, query operators,
  the per-user session, and the lenient numeric coercion used whenever a
  stored value is read back.

KEY CONCEPTS IN THIS FILE (types.go):
  - Record:     A document, a flat mapping of field names to scalars
  - Collection: A named set of records (clients, products, sales, ...)
  - Op:         Comparison operator for Store.Query
  - UserID:     Owner of a namespace; every collection is scoped by it

DESIGN PRINCIPLES:
  1. Per-user namespacing: no operation can touch another user's data
  2. Scalars only: records hold strings, numbers and dates (as strings)
  3. Leniency: a malformed number reads as zero, it never fails a read

SEE ALSO:
  - store.go: Store interfaces
  - ledger.go: Session-bound view over a Store
  - coerce.go: Lenient conversion helpers
*/
package generic

import (
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID identifies the authenticated owner of a ledger.
type UserID string

// Collection names a set of records inside a user's namespace.
type Collection string

// FieldID is the reserved field holding a record's key.
const FieldID = "id"

// =============================================================================
// RECORD - Flat document of scalar fields
// =============================================================================

// Record is a stored document. Values are scalars: string, bool, integer
// and floating point numbers. Dates are stored as "2006-01-02" strings.
type Record map[string]any

// ID returns the record key, or "" if it has none.
func (r Record) ID() string {
	return String(r[FieldID])
}

// Clone returns a shallow copy. Values are scalars so this is a deep copy
// in practice.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge overwrites r's fields with those of fields.
func (r Record) Merge(fields Record) {
	for k, v := range fields {
		r[k] = v
	}
}

// =============================================================================
// QUERY OPERATORS
// =============================================================================

// Op is a comparison operator accepted by Store.Query.
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Valid reports whether op is one of the supported operators.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Matches applies op to the result of Compare(a, b).
func (op Op) Matches(cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

// =============================================================================
// SCALAR NORMALIZATION
// =============================================================================

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

// Scalar converts a Go value into the representation stored in a Record.
// Integers become int64, floats float64, decimals float64, times a date
// string. Anything else is returned unchanged.
func Scalar(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case decimal.Decimal:
		return x.InexactFloat64()
	case time.Time:
		return x.Format(DateLayout)
	case UserID:
		return string(x)
	case Collection:
		return string(x)
	case nil, string, bool, int64, float64:
		return v
	}

	// Named scalar types (type SaleType string) store as their base kind.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}
