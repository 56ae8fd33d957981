// Package params holds the model constants read by right-hand side functions.
//
// A Store has two independent namespaces: dense integer ids and string names.
// Reads of keys that were never set return zero. The first write of any kind
// marks the store as initialized, which hosts use to decide whether a model
// needs stepping at all.
package params

import (
	"sort"
	"sync"

	"github.com/san-kum/cellode/internal/dynamo"
)

type Store struct {
	mu          sync.RWMutex
	byID        dynamo.State
	byName      map[string]float64
	initialized bool
}

func New() *Store {
	return &Store{byName: make(map[string]float64)}
}

// Set inserts or overwrites a named parameter.
func (s *Store) Set(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.byName[name] = value
}

// SetID inserts or overwrites an indexed parameter, growing the id space to
// id+1. Slots created by the growth read as zero. Negative ids are ignored.
func (s *Store) SetID(id int, value float64) {
	if id < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.byID = s.byID.Grow(id + 1)
	s.byID[id] = value
}

func (s *Store) Get(name string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byName[name]
}

func (s *Store) GetID(id int) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 0 || id >= len(s.byID) {
		return 0
	}
	return s.byID[id]
}

func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Len returns the size of the id space.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
