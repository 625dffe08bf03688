// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package baseline persists benchmark runs under a name and compares later
// runs against them.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
)

var (
	// ErrNotFound indicates no baseline is stored under a name.
	ErrNotFound = errors.New("baseline not found")

	// ErrInvalidBaseline indicates a baseline cannot be stored or decoded.
	ErrInvalidBaseline = errors.New("invalid baseline")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidName reports whether name can be used for a baseline.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Entry is a stored run.
type Entry struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Kernel          string            `json:"kernel"`
	CreatedAt       time.Time         `json:"created_at"`
	MinTime         time.Duration     `json:"min_time"`
	Warmup          int               `json:"warmup"`
	BytesPerElement int               `json:"bytes_per_element"`
	Records         []driver.Record   `json:"records"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields Save relies on.
func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidBaseline)
	}
	if !ValidName(e.Name) {
		return fmt.Errorf("%w: name %q must match %s", ErrInvalidBaseline, e.Name, namePattern)
	}
	if e.Kernel == "" {
		return fmt.Errorf("%w: kernel is required", ErrInvalidBaseline)
	}
	if len(e.Records) == 0 {
		return fmt.Errorf("%w: no records", ErrInvalidBaseline)
	}
	return nil
}

// Store persists baselines by name. Saving an existing name replaces it.
type Store interface {
	Get(ctx context.Context, name string) (*Entry, error)
	Save(ctx context.Context, entry *Entry) error
	List(ctx context.Context) ([]*Entry, error)
	Delete(ctx context.Context, name string) error
}

// prepare validates e and fills its ID and creation time.
func prepare(e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}

func clone(e *Entry) *Entry {
	c := *e
	c.Records = append([]driver.Record(nil), e.Records...)
	for i, r := range c.Records {
		if r.Measurement != nil {
			m := *r.Measurement
			c.Records[i].Measurement = &m
		}
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func sortByName(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// MemoryStore keeps baselines in memory.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Entry)}
}

func (m *MemoryStore) Get(_ context.Context, name string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return clone(e), nil
}

func (m *MemoryStore) Save(_ context.Context, entry *Entry) error {
	if err := prepare(entry); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[entry.Name] = clone(entry)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entry, 0, len(m.data))
	for _, e := range m.data {
		out = append(out, clone(e))
	}
	sortByName(out)
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.data, name)
	return nil
}
