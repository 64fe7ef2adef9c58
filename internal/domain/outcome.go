package domain

import (
	"bytes"
	"encoding/json"
)

// OutcomeKind discriminates successful results from recorded page failures.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is either a success value or a failure message. It is stored in
// the same result slot as before the discriminant existed: failures are
// written as {"error": message} and successes as the raw value.
type Outcome struct {
	Kind    OutcomeKind
	Value   json.RawMessage
	Message string
}

// Success wraps a processor value.
func Success(value json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeSuccess, Value: value}
}

// Failure records a page error message.
func Failure(message string) Outcome {
	return Outcome{Kind: OutcomeFailure, Message: message}
}

// Failed reports whether the outcome is a recorded failure.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailure
}

type failurePayload struct {
	Error string `json:"error"`
}

// Payload returns the persisted representation of the outcome.
func (o Outcome) Payload() json.RawMessage {
	if o.Failed() {
		raw, _ := json.Marshal(failurePayload{Error: o.Message})
		return raw
	}
	if len(bytes.TrimSpace(o.Value)) == 0 {
		return json.RawMessage("null")
	}
	return o.Value
}

// MarshalJSON renders the outcome in its stored shape so API clients keep
// receiving either the value or {"error": ...}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return o.Payload(), nil
}

// DecodeOutcome rebuilds an outcome from a stored kind and payload. Rows
// written before the kind column existed have an empty kind and are
// classified by shape: an object whose only member is a string "error" is a
// failure, everything else a success.
func DecodeOutcome(kind string, payload []byte) Outcome {
	switch OutcomeKind(kind) {
	case OutcomeFailure:
		var fp failurePayload
		if err := json.Unmarshal(payload, &fp); err != nil {
			return Failure(string(payload))
		}
		return Failure(fp.Error)
	case OutcomeSuccess:
		return Success(cloneRaw(payload))
	}
	if msg, ok := legacyFailure(payload); ok {
		return Failure(msg)
	}
	return Success(cloneRaw(payload))
}

func legacyFailure(payload []byte) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || len(fields) != 1 {
		return "", false
	}
	raw, ok := fields["error"]
	if !ok {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", false
	}
	return msg, true
}

func cloneRaw(b []byte) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
