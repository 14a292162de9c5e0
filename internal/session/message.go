package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"labstream/internal/series"
)

// Update is the batch for one (device, observable) pair in a message.
type Update struct {
	Device     string
	Observable string
	Batch      []series.Pair
}

// Message is a validated stream message.
type Message struct {
	Experiment string
	Updates    []Update
	// Dropped counts pairs that failed numeric coercion.
	Dropped int
}

// MessageError reports a malformed stream message.
type MessageError struct {
	Reason string
	Err    error
}

func (e *MessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

func malformed(err error, format string, args ...interface{}) *MessageError {
	return &MessageError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// Decode parses and validates one stream message:
//
//	{"current_experiment": "...", "updates": {"<device>": {"<observable>": [[ts, value], ...]}}}
//
// Structural problems reject the whole message. Pairs whose timestamp or
// value cannot be read as a finite number are dropped individually. Devices
// and observables are returned in sorted order.
func Decode(raw []byte) (*Message, error) {
	var top map[string]json.RawMessage
	if err := decodeObject(raw, &top); err != nil {
		return nil, malformed(err, "message is not a JSON object")
	}

	expRaw, ok := top["current_experiment"]
	if !ok {
		return nil, malformed(nil, "missing current_experiment")
	}
	if !startsWith(expRaw, '"') {
		return nil, malformed(nil, "current_experiment is not a string")
	}
	var experiment string
	if err := json.Unmarshal(expRaw, &experiment); err != nil {
		return nil, malformed(err, "current_experiment is not a string")
	}

	updRaw, ok := top["updates"]
	if !ok {
		return nil, malformed(nil, "missing updates")
	}
	var devices map[string]json.RawMessage
	if err := decodeObject(updRaw, &devices); err != nil {
		return nil, malformed(err, "updates is not an object")
	}

	msg := &Message{Experiment: experiment}
	for _, device := range sortedKeys(devices) {
		var observables map[string]json.RawMessage
		if err := decodeObject(devices[device], &observables); err != nil {
			return nil, malformed(err, "updates[%q] is not an object", device)
		}
		for _, observable := range sortedKeys(observables) {
			var entries []json.RawMessage
			if err := decodeArray(observables[observable], &entries); err != nil {
				return nil, malformed(err, "updates[%q][%q] is not an array", device, observable)
			}
			update := Update{Device: device, Observable: observable}
			for _, entry := range entries {
				pair, ok := decodePair(entry)
				if !ok {
					msg.Dropped++
					continue
				}
				update.Batch = append(update.Batch, pair)
			}
			msg.Updates = append(msg.Updates, update)
		}
	}
	return msg, nil
}

func decodeObject(raw json.RawMessage, v interface{}) error {
	if !startsWith(raw, '{') {
		return fmt.Errorf("expected object")
	}
	return json.Unmarshal(raw, v)
}

func decodeArray(raw json.RawMessage, v interface{}) error {
	if !startsWith(raw, '[') {
		return fmt.Errorf("expected array")
	}
	return json.Unmarshal(raw, v)
}

func startsWith(raw []byte, c byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == c
}

func decodePair(raw json.RawMessage) (series.Pair, bool) {
	var fields []json.RawMessage
	if err := decodeArray(raw, &fields); err != nil || len(fields) != 2 {
		return series.Pair{}, false
	}
	ts, ok := number(fields[0])
	if !ok || !inMilliRange(ts) {
		return series.Pair{}, false
	}
	value, ok := number(fields[1])
	if !ok {
		return series.Pair{}, false
	}
	return series.Pair{Seconds: ts, Value: value}, true
}

// number accepts JSON numbers and numeric strings.
func number(raw json.RawMessage) (float64, bool) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// inMilliRange reports whether a timestamp in seconds still fits an int64
// count of milliseconds.
func inMilliRange(seconds float64) bool {
	ms := math.Round(seconds * 1000)
	return ms >= math.MinInt64 && ms < math.MaxInt64
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
