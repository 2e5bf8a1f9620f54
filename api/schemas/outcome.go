package schemas

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// OutcomeKind classifies the end state of a single login run.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeRbaTriggered     OutcomeKind = "rba_triggered"
	OutcomeResolutionFailed OutcomeKind = "resolution_failed"
	OutcomeError            OutcomeKind = "error"
)

// Step names a stage of the login sequence. Steps are ordered.
type Step string

const (
	StepInit     Step = "init"
	StepContext  Step = "open_context"
	StepNavigate Step = "navigate"
	StepSettle   Step = "settle"
	StepToggle   Step = "password_toggle"
	StepUsername Step = "username"
	StepPassword Step = "password"
	StepSubmit   Step = "submit"
	StepClassify Step = "classify"
)

// LoginOutcome is the structured result of one run.
type LoginOutcome struct {
	RunID        string      `json:"run_id"`
	UserType     UserType    `json:"user_type"`
	Kind         OutcomeKind `json:"kind"`
	Success      bool        `json:"success"`
	RbaTriggered bool        `json:"rba_triggered"`
	FurthestStep Step        `json:"furthest_step"`
	Details      *Details    `json:"details"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
}

// Duration is the wall time of the run.
func (o LoginOutcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Details is a string-keyed map that keeps insertion order. Setting an
// existing key replaces its value in place.
type Details struct {
	keys   []string
	values map[string]interface{}
}

// NewDetails creates an empty ordered map.
func NewDetails() *Details {
	return &Details{values: make(map[string]interface{})}
}

// Set stores value under key.
func (d *Details) Set(key string, value interface{}) {
	if d.values == nil {
		d.values = make(map[string]interface{})
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value stored under key.
func (d *Details) Get(key string) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *Details) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len reports the number of entries.
func (d *Details) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// String renders "k=v" pairs separated by spaces.
func (d *Details) String() string {
	if d == nil {
		return ""
	}
	parts := make([]string, 0, len(d.keys))
	for _, k := range d.keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, d.values[k]))
	}
	return strings.Join(parts, " ")
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (d *Details) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	api := jsoniter.ConfigCompatibleWithStandardLibrary
	stream := api.BorrowStream(nil)
	defer api.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, k := range d.keys {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(k)
		stream.WriteVal(d.values[k])
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the input.
func (d *Details) UnmarshalJSON(b []byte) error {
	d.keys = nil
	d.values = make(map[string]interface{})

	iter := jsoniter.ParseBytes(jsoniter.ConfigCompatibleWithStandardLibrary, b)
	if iter.WhatIsNext() == jsoniter.NilValue {
		iter.ReadNil()
		return nil
	}
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		d.Set(key, it.Read())
		return true
	})
	if iter.Error != nil {
		return fmt.Errorf("decoding details: %w", iter.Error)
	}
	return nil
}
