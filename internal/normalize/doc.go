// Package normalize converts raw Streamlabs "event" payloads into model.Event records.
//
// Extraction is strict about types and lenient about presence: a missing key
// (or an explicit JSON null) yields the field's default, while a key holding
// a value of the wrong JSON type is a SchemaViolationError. Payloads without
// a "message" array are not events and are discarded silently.
//
// Field table (key, JSON type, default):
//
//	name      string   ""
//	message   string   ""
//	amount    string   "0"  parsed as float64
//	currency  string   ""
//	months    integer  0
//	raiders   integer  0
//	viewers   string   "0"  parsed as int
package normalize
