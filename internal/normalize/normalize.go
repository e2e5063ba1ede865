package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rickgao/streamlabs-tracer/internal/model"
)

// EmitFunc receives each normalized event in array order. A non-nil error
// stops processing of the remaining elements.
type EmitFunc func(model.Event) error

// Normalize parses one "event" payload and emits an Event per element of its
// "message" array. Elements emitted before a failure stay emitted.
func Normalize(payload []byte, streamer string, receivedAt time.Time, emit EmitFunc) error {
	if !gjson.ValidBytes(payload) {
		return &SchemaViolationError{Index: TopLevel, Want: "object", Got: "invalid json"}
	}

	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return &SchemaViolationError{Index: TopLevel, Want: "object", Got: jsonType(root)}
	}

	messages := root.Get("message")
	if !messages.IsArray() {
		return nil // not an event notification
	}

	top := extractor{obj: root, index: TopLevel}
	eventType, err := top.str("type", "")
	if err != nil {
		return err
	}
	eventFor, err := top.str("for", "")
	if err != nil {
		return err
	}

	for i, elem := range messages.Array() {
		if !elem.IsObject() {
			return &SchemaViolationError{Index: i, Want: "object", Got: jsonType(elem)}
		}

		ev, err := normalizeMessage(extractor{obj: elem, index: i}, streamer, receivedAt)
		if err != nil {
			return err
		}
		ev.EventType = eventType
		ev.EventFor = eventFor

		if err := emit(ev); err != nil {
			return fmt.Errorf("dispatch message[%d]: %w", i, err)
		}
	}

	return nil
}

// NormalizeAll collects the events Normalize would emit. On error it returns
// the events produced before the failing element.
func NormalizeAll(payload []byte, streamer string, receivedAt time.Time) ([]model.Event, error) {
	var events []model.Event
	err := Normalize(payload, streamer, receivedAt, func(ev model.Event) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func normalizeMessage(x extractor, streamer string, receivedAt time.Time) (model.Event, error) {
	ev := model.NewEvent(streamer, receivedAt)

	var err error
	if ev.ActorNickname, err = x.str("name", ""); err != nil {
		return ev, err
	}
	if ev.Message, err = x.str("message", ""); err != nil {
		return ev, err
	}

	amount, err := x.str("amount", "0")
	if err != nil {
		return ev, err
	}
	if ev.DonationAmount, err = strconv.ParseFloat(strings.TrimSpace(amount), 64); err != nil {
		return ev, x.parseError("amount", "decimal string", err)
	}

	if ev.DonationCurrency, err = x.str("currency", ""); err != nil {
		return ev, err
	}
	if ev.SubscriptionMonths, err = x.integer("months", 0); err != nil {
		return ev, err
	}
	if ev.RaiderCount, err = x.integer("raiders", 0); err != nil {
		return ev, err
	}

	viewers, err := x.str("viewers", "0")
	if err != nil {
		return ev, err
	}
	if ev.ViewerCount, err = strconv.Atoi(viewers); err != nil {
		return ev, x.parseError("viewers", "integer string", err)
	}

	return ev, nil
}

// extractor binds typed lookups to one JSON object and its position.
type extractor struct {
	obj   gjson.Result
	index int
}

func (x extractor) str(key, def string) (string, error) {
	f := StringField(x.obj, key)
	if f.Kind == Mismatch {
		return "", &SchemaViolationError{Index: x.index, Key: key, Want: "string", Got: f.Got}
	}
	return f.Or(def), nil
}

func (x extractor) integer(key string, def int) (int, error) {
	f := IntField(x.obj, key)
	if f.Kind == Mismatch {
		return 0, &SchemaViolationError{Index: x.index, Key: key, Want: "integer", Got: f.Got}
	}
	return f.Or(def), nil
}

func (x extractor) parseError(key, want string, err error) error {
	return &SchemaViolationError{Index: x.index, Key: key, Want: want, Got: "string", Err: err}
}
