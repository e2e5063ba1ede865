package normalize

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// FieldKind classifies the outcome of a typed lookup.
type FieldKind int

const (
	// Absent means the key is missing. An explicit null is a Mismatch.
	Absent FieldKind = iota
	// Present means the key holds a value of the requested type.
	Present
	// Mismatch means the key holds a value of some other type.
	Mismatch
)

func (k FieldKind) String() string {
	switch k {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Field is the result of looking up one key with a declared type.
type Field[T any] struct {
	Kind  FieldKind
	Value T
	Got   string // JSON type actually found, set for Mismatch
}

// Or returns the value when present and def otherwise. Callers must check
// for Mismatch first.
func (f Field[T]) Or(def T) T {
	if f.Kind == Present {
		return f.Value
	}
	return def
}

// StringField looks up key in obj expecting a JSON string.
func StringField(obj gjson.Result, key string) Field[string] {
	r := obj.Get(key)
	if !r.Exists() {
		return Field[string]{Kind: Absent}
	}
	if r.Type != gjson.String {
		return Field[string]{Kind: Mismatch, Got: jsonType(r)}
	}
	return Field[string]{Kind: Present, Value: r.Str}
}

// IntField looks up key in obj expecting a JSON integer that fits in 32 bits.
// Numbers with a fraction or exponent are a mismatch.
func IntField(obj gjson.Result, key string) Field[int] {
	r := obj.Get(key)
	if !r.Exists() {
		return Field[int]{Kind: Absent}
	}
	if r.Type != gjson.Number || strings.ContainsAny(r.Raw, ".eE") {
		return Field[int]{Kind: Mismatch, Got: jsonType(r)}
	}
	n, err := strconv.ParseInt(r.Raw, 10, 64)
	if err != nil || n > math.MaxInt32 || n < math.MinInt32 {
		return Field[int]{Kind: Mismatch, Got: "number"}
	}
	return Field[int]{Kind: Present, Value: int(n)}
}

// jsonType names the JSON type of r for error messages.
func jsonType(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return "null"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Number:
		if strings.ContainsAny(r.Raw, ".eE") {
			return "float"
		}
		return "number"
	case gjson.String:
		return "string"
	default:
		if r.IsArray() {
			return "array"
		}
		if r.IsObject() {
			return "object"
		}
		return "unknown"
	}
}
