// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Session counts (registered and authorized)
//   - Disconnects by classification (intentional, unauthorized)
//   - Client stops by trigger (manual, automatic, absorbed)
//   - Normalized and dispatched event rates
//   - Payload failures (schema violations, dispatcher errors)
//
// All methods are safe on a nil *Metrics.
package metrics
