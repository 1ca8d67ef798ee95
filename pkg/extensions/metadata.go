// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import "time"

// Metadata is an extensible key-value store for extension types.
//
// AuthInfo, HashChainEntry, and hosted implementations use Metadata to carry
// claims and context that the core types do not model. Accessors are strict:
// a value stored as int is not retrievable as int64, and vice versa.
//
// # Usage
//
//	meta := NewMetadata().
//	    Set("cohort", "cs101-fall").
//	    Set("turn_number", 5).
//	    Set("guardian_consent", true)
//
//	if cohort, ok := meta.GetString("cohort"); ok {
//	    log.Info("learner cohort", "cohort", cohort)
//	}
//
// # Thread Safety
//
// Metadata is a plain map and is not safe for concurrent mutation. Build it
// once, then treat it as read-only when shared.
type Metadata map[string]any

// NewMetadata creates an empty Metadata ready for chained Set calls.
func NewMetadata() Metadata {
	return make(Metadata)
}

// Set stores a value and returns the same instance for chaining.
func (m Metadata) Set(key string, value any) Metadata {
	m[key] = value
	return m
}

// Get retrieves a value by key. The boolean reports whether the key exists.
func (m Metadata) Get(key string) (any, bool) {
	value, ok := m[key]
	return value, ok
}

// GetString retrieves a string value. Returns ("", false) when the key is
// missing or holds a different type.
func (m Metadata) GetString(key string) (string, bool) {
	value, ok := m[key]
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// GetInt retrieves an int value. Returns (0, false) when the key is missing
// or holds a different type.
func (m Metadata) GetInt(key string) (int, bool) {
	value, ok := m[key]
	if !ok {
		return 0, false
	}
	i, ok := value.(int)
	return i, ok
}

// GetInt64 retrieves an int64 value. Values stored as int do not convert.
func (m Metadata) GetInt64(key string) (int64, bool) {
	value, ok := m[key]
	if !ok {
		return 0, false
	}
	i, ok := value.(int64)
	return i, ok
}

// GetFloat64 retrieves a float64 value.
func (m Metadata) GetFloat64(key string) (float64, bool) {
	value, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := value.(float64)
	return f, ok
}

// GetBool retrieves a bool value. The second return distinguishes a stored
// false from a missing key.
func (m Metadata) GetBool(key string) (bool, bool) {
	value, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// GetTime retrieves a time.Time value.
func (m Metadata) GetTime(key string) (time.Time, bool) {
	value, ok := m[key]
	if !ok {
		return time.Time{}, false
	}
	t, ok := value.(time.Time)
	return t, ok
}

// Has reports whether a key exists, regardless of its value (including nil).
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Delete removes a key. Safe to call when the key does not exist.
// Returns the same instance for chaining.
func (m Metadata) Delete(key string) Metadata {
	delete(m, key)
	return m
}

// Clone creates a shallow copy. Pointer values in the copy alias the
// originals.
func (m Metadata) Clone() Metadata {
	clone := make(Metadata, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Merge copies all entries from other, overwriting existing keys.
// A nil other is a no-op. Returns the same instance for chaining.
func (m Metadata) Merge(other Metadata) Metadata {
	if other == nil {
		return m
	}
	for k, v := range other {
		m[k] = v
	}
	return m
}

// Keys returns all keys in unspecified order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of key-value pairs.
func (m Metadata) Len() int {
	return len(m)
}
