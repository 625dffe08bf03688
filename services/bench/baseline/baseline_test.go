// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kernelbench/services/bench/driver"
	bdb "github.com/AleutianAI/kernelbench/services/bench/storage/badger"
)

func ok(size int, avgNs float64) driver.Record {
	return driver.Record{Size: size, Measurement: &driver.Measurement{
		AverageNanos: avgNs,
		Repetitions:  10,
		Total:        time.Duration(avgNs * 10),
	}}
}

func failed(size int) driver.Record {
	return driver.Record{Size: size, Error: "boom"}
}

func sampleEntry(name string) *Entry {
	return &Entry{
		Name:            name,
		Kernel:          "fft-forward",
		MinTime:         500 * time.Millisecond,
		BytesPerElement: 32,
		Records:         []driver.Record{ok(16, 100), failed(32)},
		Metadata:        map[string]string{"host": "ci"},
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := bdb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	badgerStore, err := NewBadgerStore(db)
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": badgerStore,
	}
}

func TestStore(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Delete(ctx, "nope"), ErrNotFound)

			entry := sampleEntry("main")
			require.NoError(t, store.Save(ctx, entry))
			assert.NotEmpty(t, entry.ID)
			assert.False(t, entry.CreatedAt.IsZero())

			got, err := store.Get(ctx, "main")
			require.NoError(t, err)
			assert.Equal(t, entry.ID, got.ID)
			assert.Equal(t, "fft-forward", got.Kernel)
			assert.Equal(t, 500*time.Millisecond, got.MinTime)
			require.Len(t, got.Records, 2)
			assert.Equal(t, 100.0, got.Records[0].Measurement.AverageNanos)
			assert.Equal(t, "boom", got.Records[1].Error)
			assert.Equal(t, "ci", got.Metadata["host"])

			require.NoError(t, store.Save(ctx, sampleEntry("alpha")))
			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "alpha", list[0].Name)
			assert.Equal(t, "main", list[1].Name)

			replacement := sampleEntry("main")
			replacement.Kernel = "fft-inverse"
			require.NoError(t, store.Save(ctx, replacement))
			got, err = store.Get(ctx, "main")
			require.NoError(t, err)
			assert.Equal(t, "fft-inverse", got.Kernel)

			require.NoError(t, store.Delete(ctx, "main"))
			_, err = store.Get(ctx, "main")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_RejectsInvalid(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bad := []*Entry{
				nil,
				{Name: "", Kernel: "k", Records: []driver.Record{ok(1, 1)}},
				{Name: "has space", Kernel: "k", Records: []driver.Record{ok(1, 1)}},
				{Name: "x", Records: []driver.Record{ok(1, 1)}},
				{Name: "x", Kernel: "k"},
			}
			for _, e := range bad {
				assert.ErrorIs(t, store.Save(ctx, e), ErrInvalidBaseline)
			}
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, sampleEntry("main")))

	got, err := store.Get(ctx, "main")
	require.NoError(t, err)
	got.Records[0].Measurement.AverageNanos = 1
	got.Metadata["host"] = "changed"

	again, err := store.Get(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 100.0, again.Records[0].Measurement.AverageNanos)
	assert.Equal(t, "ci", again.Metadata["host"])
}

func TestNewBadgerStore_NilDB(t *testing.T) {
	_, err := NewBadgerStore(nil)
	assert.Error(t, err)
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("main"))
	assert.True(t, ValidName("v1.2_fft-forward"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("-leading"))
	assert.False(t, ValidName("a/b"))
}
