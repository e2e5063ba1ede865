// Package model defines shared data types used across the Streamlabs tracer.
//
// Conventions:
//   - Optional strings: empty string means the field was absent upstream
//   - Numeric fields default to zero when absent
//   - IDs: uuid.UUID generated locally for every normalized event
package model
