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
	"reflect"
	"time"
)

// Cloner is implemented by run-state types that know how to deep copy themselves.
// The manager prefers it over reflection.
type Cloner[S any] interface {
	Clone() S
}

// DeepCopy returns an independent copy of v.
//
// Maps, slices, pointers and interfaces are followed recursively, and
// shared or cyclic references are preserved in the copy. Exported struct
// fields are copied deeply; unexported fields are copied shallowly.
// Functions and channels are shared.
func DeepCopy[S any](v S) S {
	if c, ok := any(v).(Cloner[S]); ok {
		return c.Clone()
	}
	if out, ok := copyFast(any(v)); ok {
		if s, ok := out.(S); ok {
			return s
		}
	}
	src := reflect.ValueOf(&v).Elem()
	dst := copyValue(src, make(map[visitKey]reflect.Value))
	out, _ := dst.Interface().(S)
	return out
}

// copyFast handles JSON-shaped values without reflection.
func copyFast(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case string, bool, int, int64, float64, time.Time:
		return v, true
	case map[string]any:
		if v == nil {
			return v, true
		}
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = DeepCopy(vv)
		}
		return out, true
	case Map:
		return v.Clone(), true
	case []any:
		if v == nil {
			return v, true
		}
		out := make([]any, len(v))
		for i := range v {
			out[i] = DeepCopy(v[i])
		}
		return out, true
	case []string:
		if v == nil {
			return v, true
		}
		return append([]string(nil), v...), true
	case []int:
		if v == nil {
			return v, true
		}
		return append([]int(nil), v...), true
	case []float64:
		if v == nil {
			return v, true
		}
		return append([]float64(nil), v...), true
	}
	return nil, false
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

// copyValue returns a value of v's type that shares no mutable memory with v.
func copyValue(v reflect.Value, seen map[visitKey]reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(copyValue(v.Elem(), seen))
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		key := visitKey{ptr: v.Pointer(), typ: v.Type()}
		if cached, ok := seen[key]; ok {
			return cached
		}
		out := reflect.New(v.Type().Elem())
		seen[key] = out
		out.Elem().Set(copyValue(v.Elem(), seen))
		return out
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		key := visitKey{ptr: v.Pointer(), typ: v.Type()}
		if cached, ok := seen[key]; ok {
			return cached
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		seen[key] = out
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyValue(iter.Value(), seen))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		key := visitKey{ptr: v.Pointer(), typ: v.Type(), n: v.Len()}
		if cached, ok := seen[key]; ok {
			return cached
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		seen[key] = out
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(copyValue(v.Index(i), seen))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(copyValue(v.Index(i), seen))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			out.Field(i).Set(copyValue(v.Field(i), seen))
		}
		return out
	default:
		return v
	}
}
