package modbus

import (
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"
)

// bucketSize is the number of addresses guarded by a single mutex within a
// MemoryStore. A single Read or Write only ever touches one index, so one
// bucket is normally enough; the multi-locker lets ReadRange, which needs a
// consistent multi-index snapshot, lock exactly the buckets it touches,
// atomically, without a single store-wide mutex serializing unrelated
// addresses.
const bucketSize = 64

// bucket is one guarded slice of one address space.
type bucket struct {
	mx   sync.RWMutex
	data []uint16
}

// MemoryStore is the default, in-process DataStore. Each address space is
// partitioned into fixed-size buckets, each independently lockable, so
// concurrent access to unrelated addresses does not contend.
type MemoryStore struct {
	spaces [4][]*bucket
	sizes  [4]uint16
}

// NewMemoryStore creates a MemoryStore with the given number of addresses
// per space. A size of 0 means that space is absent (every Read/Write
// against it returns ErrNotFound).
func NewMemoryStore(coils, discreteInputs, holdingRegisters, inputRegisters uint16) *MemoryStore {
	sizes := [4]uint16{coils, discreteInputs, holdingRegisters, inputRegisters}
	ms := &MemoryStore{sizes: sizes}
	for space, size := range sizes {
		numBuckets := (int(size) + bucketSize - 1) / bucketSize
		buckets := make([]*bucket, numBuckets)
		for i := range buckets {
			n := bucketSize
			if i == numBuckets-1 && int(size)%bucketSize != 0 {
				n = int(size) % bucketSize
			}
			buckets[i] = &bucket{data: make([]uint16, n)}
		}
		ms.spaces[space] = buckets
	}
	return ms
}

// locate returns the bucket holding index and the offset within it.
func (ms *MemoryStore) locate(space Space, index uint16) (*bucket, int, bool) {
	if index >= ms.sizes[space] {
		return nil, 0, false
	}
	buckets := ms.spaces[space]
	b := buckets[index/bucketSize]
	return b, int(index) % bucketSize, true
}

// Read implements DataStore.
func (ms *MemoryStore) Read(space Space, index uint16) (uint16, error) {
	b, off, ok := ms.locate(space, index)
	if !ok {
		return 0, ErrNotFound
	}
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.data[off], nil
}

// Write implements DataStore.
func (ms *MemoryStore) Write(space Space, index uint16, value uint16) error {
	if space.IsReadOnly() {
		return ErrReadOnly
	}
	b, off, ok := ms.locate(space, index)
	if !ok {
		return ErrNotFound
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if space.IsBit() && value != 0 {
		value = 1
	}
	b.data[off] = value
	return nil
}

// ReadRange reads count consecutive values from space starting at start,
// locking every bucket the range touches atomically so the returned
// snapshot is internally consistent even under concurrent writers. It
// returns ErrNotFound if any address in the range is out of bounds.
func (ms *MemoryStore) ReadRange(space Space, start uint16, count int) ([]uint16, error) {
	buckets, offsets, ok := ms.rangeBuckets(space, start, count)
	if !ok {
		return nil, ErrNotFound
	}
	// Recursive RLock of the same *sync.RWMutex from one goroutine can
	// deadlock against a concurrent writer, so the buckets touched by a
	// range spanning fewer than bucketSize addresses must be locked once
	// each, not once per address.
	seen := make(map[*bucket]struct{}, len(buckets))
	lockers := make([]sync.Locker, 0, len(buckets))
	for _, b := range buckets {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		lockers = append(lockers, b.mx.RLocker())
	}
	ml := multilocker.New(lockers...)
	ml.Lock()
	defer ml.Unlock()
	out := make([]uint16, count)
	for i, off := range offsets {
		out[i] = buckets[i].data[off]
	}
	return out, nil
}

// rangeBuckets resolves the (possibly repeated) bucket and in-bucket offset
// for each of the count addresses starting at start.
func (ms *MemoryStore) rangeBuckets(space Space, start uint16, count int) ([]*bucket, []int, bool) {
	buckets := make([]*bucket, count)
	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		index := start + uint16(i)
		if int(start)+i > 0xFFFF {
			return nil, nil, false
		}
		b, off, ok := ms.locate(space, index)
		if !ok {
			return nil, nil, false
		}
		buckets[i] = b
		offsets[i] = off
	}
	return buckets, offsets, true
}
