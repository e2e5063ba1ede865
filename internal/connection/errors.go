package connection

import "fmt"

// StateError reports a lifecycle call made in the wrong state, such as
// starting an already started manager.
type StateError struct {
	Op  string
	Msg string
}

func (e *StateError) Error() string {
	return e.Op + ": " + e.Msg
}

// ConfigurationError reports an identity that cannot be used to open a session.
type ConfigurationError struct {
	Nickname string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("streamer %q: %s", e.Nickname, e.Reason)
}

// TransportConstructionError reports a service URL that cannot be turned into
// a websocket target.
type TransportConstructionError struct {
	URL string
	Err error
}

func (e *TransportConstructionError) Error() string {
	return fmt.Sprintf("invalid socket url %q: %v", e.URL, e.Err)
}

func (e *TransportConstructionError) Unwrap() error {
	return e.Err
}
