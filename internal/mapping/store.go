// Package mapping holds the trigger-to-template mapping table and its
// persisted file format.
package mapping

import (
	"sync"
	"sync/atomic"

	"github.com/foundrymidi/bridge/model"
)

// Entry pairs a trigger key with its bound request template.
type Entry struct {
	Key      model.TriggerKey
	Template model.RequestTemplate
}

// snapshot is one immutable generation of the table. The order slice
// preserves insertion order; a key removed and re-inserted moves to the end.
type snapshot struct {
	entries map[model.TriggerKey]model.RequestTemplate
	order   []model.TriggerKey
}

var emptySnapshot = &snapshot{entries: map[model.TriggerKey]model.RequestTemplate{}}

// Store is the mapping table. It is read on every matched MIDI event from
// the intake goroutine and written from the configuration path; mutations
// build a fresh snapshot and swap it atomically, so the hot read path never
// takes a lock and never observes a partially updated entry.
type Store struct {
	mu   sync.Mutex // serializes writers only
	snap atomic.Pointer[snapshot]
}

// NewStore creates an empty mapping store.
func NewStore() *Store {
	s := &Store{}
	s.snap.Store(emptySnapshot)
	return s
}

// Get returns the template bound to key.
func (s *Store) Get(key model.TriggerKey) (model.RequestTemplate, bool) {
	tpl, ok := s.snap.Load().entries[key]
	return tpl, ok
}

// Set binds a template to key. A later write to an existing key replaces its
// mapping in place, keeping the key's position in insertion order.
func (s *Store) Set(key model.TriggerKey, tpl model.RequestTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	next := cur.clone()
	if _, exists := next.entries[key]; !exists {
		next.order = append(next.order, key)
	}
	next.entries[key] = tpl
	s.snap.Store(next)
}

// Remove deletes the mapping for key, if any.
func (s *Store) Remove(key model.TriggerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if _, exists := cur.entries[key]; !exists {
		return
	}
	next := cur.clone()
	delete(next.entries, key)
	for i, k := range next.order {
		if k == key {
			next.order = append(next.order[:i], next.order[i+1:]...)
			break
		}
	}
	s.snap.Store(next)
}

// ReplaceAll swaps the entire table for the given entries in one generation.
// Duplicate keys keep the last template but the first position.
func (s *Store) ReplaceAll(entries []Entry) {
	next := &snapshot{
		entries: make(map[model.TriggerKey]model.RequestTemplate, len(entries)),
		order:   make([]model.TriggerKey, 0, len(entries)),
	}
	for _, e := range entries {
		if _, exists := next.entries[e.Key]; !exists {
			next.order = append(next.order, e.Key)
		}
		next.entries[e.Key] = e.Template
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(next)
}

// All returns the entries in insertion order.
func (s *Store) All() []Entry {
	cur := s.snap.Load()
	out := make([]Entry, 0, len(cur.order))
	for _, k := range cur.order {
		out = append(out, Entry{Key: k, Template: cur.entries[k]})
	}
	return out
}

// Len returns the number of mappings.
func (s *Store) Len() int {
	return len(s.snap.Load().entries)
}

func (sn *snapshot) clone() *snapshot {
	next := &snapshot{
		entries: make(map[model.TriggerKey]model.RequestTemplate, len(sn.entries)+1),
		order:   make([]model.TriggerKey, len(sn.order), len(sn.order)+1),
	}
	for k, v := range sn.entries {
		next.entries[k] = v
	}
	copy(next.order, sn.order)
	return next
}
