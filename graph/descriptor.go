// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/kestrelgfx/rengraph/driver"
)

// MaxDescriptorSets bounds the set index space a pipeline layout can
// address (spec.md §6 "MAX_DESCRIPTOR_SETS = 4").
const MaxDescriptorSets = 4

// MaxBindingsPerSet bounds the binding index space within a set
// (spec.md §6 "MAX_BINDINGS_PER_SET = 16").
const MaxBindingsPerSet = 16

// SlotKind tags the payload of one binding in a SetState (spec.md §3
// "per binding a tagged slot").
type SlotKind int

const (
	SlotEmpty SlotKind = iota
	SlotCombinedImage
	SlotStorageImage
	SlotUniformBuffer
	SlotStorageBuffer
)

// BindingSlot is one binding's current value within a SetState.
type BindingSlot struct {
	Kind SlotKind

	Image   driver.ImageView
	Sampler driver.Sampler

	Buffer driver.Buffer
	Offset int64
	Range  int64
}

// setKey is the FNV-1a hash of a SetState's bindings, used as the
// CacheMap key for descriptor-set reuse (spec.md §4.4 "key = bindings
// hash → node").
type setKey uint64

// SetState is the fully-specified binding table for one descriptor
// set (spec.md §3, §4.4 "state ... is the fully-specified binding
// table"). Two SetStates with identical Slots produce the same
// setKey and therefore the same cached descriptor set.
type SetState struct {
	Slots [MaxBindingsPerSet]BindingSlot
}

func (s *SetState) key() setKey {
	h := fnv.New64a()
	var buf [8]byte
	putU64 := func(v uint64) {
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	for _, slot := range s.Slots {
		putU64(uint64(slot.Kind))
		// Pointer identity is what distinguishes otherwise-equal
		// driver objects here; interface values are hashed via their
		// pointer bits through %p-equivalent formatting, matching the
		// kind of opaque identity the driver package's interfaces
		// provide (they carry no exported identity field of their
		// own).
		putU64(uint64(fnvPtr(slot.Image)))
		putU64(uint64(fnvPtr(slot.Sampler)))
		putU64(uint64(fnvPtr(slot.Buffer)))
		putU64(uint64(slot.Offset))
		putU64(uint64(slot.Range))
	}
	return setKey(h.Sum64())
}

// fnvPtr folds an interface value's dynamic pointer into a uint64 for
// hashing, without depending on unsafe: it uses the %p formatting
// Go's fmt package derives from the pointer itself.
func fnvPtr(v any) uint64 {
	if v == nil {
		return 0
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%p", v)
	return h.Sum64()
}

// RawDescriptorSetAllocator manages a ring of descriptor-heap copies
// for one descriptor-set layout, reusing recently-bound sets across a
// CacheMap frame window instead of allocating a new one on every call
// (spec.md §4.4).
//
// Grounded on original_source's util/temporary_map.rs-backed
// allocator description; the concrete "descriptor set" this engine
// produces is a (driver.DescTable, heap-copy index) pair, since
// package driver models descriptor storage as a DescHeap with
// multiple copies bound through a DescTable rather than first-class
// set objects.
type RawDescriptorSetAllocator struct {
	dev    *Device
	layout []driver.Descriptor

	heap  driver.DescHeap
	table driver.DescTable

	copies   int
	freeList []int
	cache    *CacheMap[setKey, int] // setKey -> heap-copy index
	states   map[int]*SetState      // heap-copy index -> last-written state, for heap regrowth replay
}

// NewRawDescriptorSetAllocator creates an allocator for sets of the
// given layout, sized to the given frame window.
func NewRawDescriptorSetAllocator(dev *Device, layout []driver.Descriptor, window int) (*RawDescriptorSetAllocator, error) {
	heap, err := dev.gpu.NewDescHeap(layout)
	if err != nil {
		return nil, err
	}
	const initialCopies = 16
	if err := heap.New(initialCopies); err != nil {
		heap.Destroy()
		return nil, err
	}
	table, err := dev.gpu.NewDescTable([]driver.DescHeap{heap})
	if err != nil {
		heap.Destroy()
		return nil, err
	}
	a := &RawDescriptorSetAllocator{
		dev: dev, layout: layout,
		heap: heap, table: table,
		copies: initialCopies,
		states: make(map[int]*SetState),
	}
	for i := 0; i < initialCopies; i++ {
		a.freeList = append(a.freeList, i)
	}
	a.cache = NewCacheMap[setKey, int](window, a.onEvict)
	return a, nil
}

// onEvict is called by the CacheMap when a set falls out of the
// frame window; the heap copy returns to the free list instead of
// being destroyed (spec.md §4.4 "returning all those sets to the free
// list").
func (a *RawDescriptorSetAllocator) onEvict(_ setKey, copyIdx int) {
	a.freeList = append(a.freeList, copyIdx)
	delete(a.states, copyIdx)
}

// Get returns a descriptor set (as a heap-copy index to bind via
// Table()) equivalent to state, writing the bindings if this exact
// state was not already resident (spec.md §4.4 "get(state)").
func (a *RawDescriptorSetAllocator) Get(state *SetState) (copyIdx int, err error) {
	key := state.key()
	return a.cache.GetOrCreate(key, func() (int, error) {
		idx, err := a.reserve()
		if err != nil {
			return 0, err
		}
		a.write(idx, state)
		a.states[idx] = state
		return idx, nil
	})
}

func (a *RawDescriptorSetAllocator) reserve() (int, error) {
	if len(a.freeList) == 0 {
		if err := a.grow(); err != nil {
			return 0, err
		}
	}
	idx := a.freeList[len(a.freeList)-1]
	a.freeList = a.freeList[:len(a.freeList)-1]
	return idx, nil
}

// grow doubles the heap's copy count. Since driver.DescHeap.New
// invalidates every previously written copy, every still-cached
// state is replayed into the new heap after resizing.
func (a *RawDescriptorSetAllocator) grow() error {
	newCopies := a.copies * 2
	if err := a.heap.New(newCopies); err != nil {
		return err
	}
	live := map[int]*SetState{}
	a.cache.Range(func(_ setKey, idx int) bool {
		live[idx] = a.states[idx]
		return true
	})
	for idx, st := range live {
		a.write(idx, st)
	}
	a.freeList = a.freeList[:0]
	for i := a.copies; i < newCopies; i++ {
		a.freeList = append(a.freeList, i)
	}
	a.copies = newCopies
	return nil
}

func (a *RawDescriptorSetAllocator) write(copyIdx int, state *SetState) {
	for nr, slot := range state.Slots {
		switch slot.Kind {
		case SlotEmpty:
		case SlotCombinedImage:
			a.heap.SetImage(copyIdx, nr, 0, []driver.ImageView{slot.Image})
			if slot.Sampler != nil {
				a.heap.SetSampler(copyIdx, nr, 0, []driver.Sampler{slot.Sampler})
			}
		case SlotStorageImage:
			a.heap.SetImage(copyIdx, nr, 0, []driver.ImageView{slot.Image})
		case SlotUniformBuffer, SlotStorageBuffer:
			a.heap.SetBuffer(copyIdx, nr, 0, []driver.Buffer{slot.Buffer}, []int64{slot.Offset}, []int64{slot.Range})
		}
	}
}

// Table returns the driver.DescTable every Get call's heap-copy index
// resolves against.
func (a *RawDescriptorSetAllocator) Table() driver.DescTable { return a.table }

// NewFrame advances the allocator's recency window, recycling the
// frame that fell out of it (spec.md §4.4 "On frame rollover...").
func (a *RawDescriptorSetAllocator) NewFrame() { a.cache.NewFrame() }

func (a *RawDescriptorSetAllocator) destroy() {
	a.dev.Deleter().Enqueue(DeleteDescTable, a.table)
	a.dev.Deleter().Enqueue(DeleteDescHeap, a.heap)
}

// quantize reduces a float32 to its bit pattern for use in a hash or
// equality key (spec.md §3 "PipelineState must implement a
// deterministic hash that quantizes floating-point fields"). Shared
// by SetState-adjacent float fields and PipelineState (pipeline.go).
func quantize(f float32) uint32 { return math.Float32bits(f) }
