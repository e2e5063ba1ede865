package normalize

import "fmt"

// TopLevel is the SchemaViolationError index for fields outside the message array.
const TopLevel = -1

// SchemaViolationError reports a value that is present but not of the shape
// the upstream contract promises.
type SchemaViolationError struct {
	Index int    // message array index, or TopLevel
	Key   string // offending key, empty when the element itself is malformed
	Want  string // declared type
	Got   string // JSON type found
	Err   error  // underlying parse error, if any
}

func (e *SchemaViolationError) Error() string {
	loc := "payload"
	if e.Index != TopLevel {
		loc = fmt.Sprintf("message[%d]", e.Index)
	}
	if e.Key != "" {
		loc += "." + e.Key
	}

	msg := fmt.Sprintf("schema violation at %s: want %s", loc, e.Want)
	if e.Got != "" {
		msg += ", got " + e.Got
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaViolationError) Unwrap() error {
	return e.Err
}
