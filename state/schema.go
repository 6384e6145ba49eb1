//
// Tencent is pleased to support the open source community by making trpc-graph-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-graph-go is licensed under the Apache License Version 2.0.
//
//

package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Map is a ready-made run state for graphs that do not need a typed struct.
type Map map[string]any

// Clone implements Cloner.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}

// UnmarshalJSON decodes numbers that are integers as int and others as
// float64, so a Map survives a checkpoint round trip with its counters
// intact. Nested objects and arrays decode as map[string]any and []any.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(Map, len(raw))
	for k, v := range raw {
		out[k] = normalizeNumbers(v)
	}
	*m = out
	return nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil && int64(int(i)) == i {
			return int(i)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
		return x
	}
	return v
}

// Reducer merges an update into the existing value of a field.
type Reducer func(existing, update any) any

// Field describes one key of a Map state.
type Field struct {
	Type     reflect.Type
	Reducer  Reducer
	Default  func() any
	Required bool
}

// Schema declares per-key reducers for Map states.
type Schema struct {
	mu     sync.RWMutex
	fields map[string]Field
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]Field)}
}

// AddField registers a field. A nil reducer overwrites.
func (s *Schema) AddField(name string, field Field) *Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if field.Reducer == nil {
		field.Reducer = DefaultReducer
	}
	s.fields[name] = field
	return s
}

// Field returns the definition registered for name.
func (s *Schema) Field(name string) (Field, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fields[name]
	return f, ok
}

// Apply merges update into current in place using the registered reducers.
// It is meant to be called inside Manager.Write.
func (s *Schema) Apply(current Map, update Map) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, value := range update {
		field, ok := s.fields[key]
		if !ok {
			current[key] = value
			continue
		}
		existing, has := current[key]
		if !has && field.Default != nil {
			existing = field.Default()
		}
		current[key] = field.Reducer(existing, value)
	}
}

// Writer returns a mutator that applies update through the schema.
func (s *Schema) Writer(update Map) func(*Map) error {
	return func(m *Map) error {
		if *m == nil {
			*m = make(Map)
		}
		s.Apply(*m, update)
		return s.Validate(*m)
	}
}

// Validate checks required keys and declared types. Fields are checked in name order.
func (s *Schema) Validate(m Map) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := s.fields[name]
		value, exists := m[name]
		if field.Required && !exists {
			return fmt.Errorf("required field %s is missing", name)
		}
		if exists && value != nil && field.Type != nil {
			if vt := reflect.TypeOf(value); !vt.AssignableTo(field.Type) {
				return fmt.Errorf("field %s has wrong type: expected %v, got %v", name, field.Type, vt)
			}
		}
	}
	return nil
}

// DefaultReducer overwrites the existing value with the update.
func DefaultReducer(_, update any) any {
	return update
}

// AppendReducer appends an []any update to an []any value.
func AppendReducer(existing, update any) any {
	if existing == nil {
		existing = []any{}
	}
	cur, ok1 := existing.([]any)
	upd, ok2 := update.([]any)
	if !ok1 || !ok2 {
		return update
	}
	return append(cur, upd...)
}

// StringSliceReducer appends string slices.
func StringSliceReducer(existing, update any) any {
	if existing == nil {
		existing = []string{}
	}
	cur, ok1 := existing.([]string)
	upd, ok2 := update.([]string)
	if !ok1 || !ok2 {
		return update
	}
	return append(cur, upd...)
}

// MergeReducer merges map updates key by key.
func MergeReducer(existing, update any) any {
	if existing == nil {
		existing = map[string]any{}
	}
	cur, ok1 := existing.(map[string]any)
	upd, ok2 := update.(map[string]any)
	if !ok1 || !ok2 {
		return update
	}
	out := make(map[string]any, len(cur)+len(upd))
	for k, v := range cur {
		out[k] = v
	}
	for k, v := range upd {
		out[k] = v
	}
	return out
}

// SumReducer adds numeric updates of matching type. Mismatched types overwrite.
func SumReducer(existing, update any) any {
	switch u := update.(type) {
	case int:
		if e, ok := existing.(int); ok {
			return e + u
		}
	case int64:
		if e, ok := existing.(int64); ok {
			return e + u
		}
	case float64:
		if e, ok := existing.(float64); ok {
			return e + u
		}
	}
	return update
}
