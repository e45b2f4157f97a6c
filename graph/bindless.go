// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"sync"

	"github.com/kestrelgfx/rengraph/driver"
	"github.com/kestrelgfx/rengraph/internal/bitm"
)

// MaxBindlessCount bounds the size of each bindless resource array
// (spec.md §6 "MAX_BINDLESS_COUNT = 500_000 (implementation may clamp
// to device max)").
const MaxBindlessCount = 500_000

// BindlessSetIndex is the set index the bindless table is bound at.
// It sits one past MaxDescriptorSets-1 (the highest set index a
// per-shader PipelineLayout addresses, where PushConstantSet already
// lives) since the bindless table is a single global descriptor set
// shared across every shader rather than part of any one shader's
// reflected per-set layout.
const BindlessSetIndex = MaxDescriptorSets

// BindlessResource names one of the three arrays exposed by the
// bindless descriptor set (spec.md §4.4). Grounded on
// original_source's bindless.rs BindlessResource enum.
type BindlessResource int

const (
	BindlessCombinedImageSampler BindlessResource = iota
	BindlessStorageImage
	BindlessStorageBuffer
)

// BindlessIndex is a handle into one of the Bindless arrays. Index 0
// is never allocated (original_source reserves it via NonZeroUsize so
// a zero index can mean "unbound" in shader code); this mirrors that
// choice.
type BindlessIndex uint32

// indexAllocator hands out monotonically increasing indices starting
// at 1, recycling freed ones first. Grounded on original_source's
// bindless.rs IndexAllocator (an AtomicUsize plus a channel of freed
// indices); here backed by internal/bitm.Bitm, the teacher's own
// growable-bitmap type, reused for a new purpose per DESIGN.md.
type indexAllocator struct {
	mu   sync.Mutex
	bits bitm.Bitm[uint64]
}

func newIndexAllocator() *indexAllocator {
	a := &indexAllocator{}
	a.bits.Grow(1)
	a.bits.Set(0) // index 0 reserved, never handed out.
	return a
}

func (a *indexAllocator) alloc() BindlessIndex {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.bits.Search(); ok {
		a.bits.Set(i)
		return BindlessIndex(i)
	}
	i := a.bits.Grow(1)
	a.bits.Set(i)
	return BindlessIndex(i)
}

func (a *indexAllocator) free(i BindlessIndex) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bits.Unset(int(i))
}

// Bindless is the single large partially-bound, update-after-bind
// descriptor set described in spec.md §4.4: three parallel arrays
// (combined image+sampler, storage image, storage buffer), each up to
// MaxBindlessCount, each with its own index allocator.
//
// In debug builds (Device.Debug), every combined-image+sampler slot
// starts out pointing at a 1x1 magenta debug image, so a shader that
// samples an unbound index renders a visible error instead of
// undefined data (spec.md §4.4, §7 "release silently binds the debug
// magenta slot via bindless").
type Bindless struct {
	dev *Device

	heap  driver.DescHeap
	table driver.DescTable

	images  indexAllocator
	storage indexAllocator
	buffers indexAllocator

	debugImage *Image
}

// newBindless creates the bindless descriptor heap/table. stages is
// the set of shader stages allowed to access it (typically
// SVertex|SFragment|SCompute).
func newBindless(dev *Device, stages driver.Stage) (*Bindless, error) {
	descs := []driver.Descriptor{
		{Type: driver.DTexture, Stages: stages, Nr: 0, Len: MaxBindlessCount},
		{Type: driver.DImage, Stages: stages, Nr: 1, Len: MaxBindlessCount},
		{Type: driver.DBuffer, Stages: stages, Nr: 2, Len: MaxBindlessCount},
	}
	heap, err := dev.gpu.NewDescHeap(descs)
	if err != nil {
		return nil, err
	}
	if err := heap.New(1); err != nil {
		heap.Destroy()
		return nil, err
	}
	table, err := dev.gpu.NewDescTable([]driver.DescHeap{heap})
	if err != nil {
		heap.Destroy()
		return nil, err
	}

	b := &Bindless{dev: dev, heap: heap, table: table}
	b.images = *newIndexAllocator()
	b.storage = *newIndexAllocator()
	b.buffers = *newIndexAllocator()

	if dev.Debug() {
		img, err := newDebugImage(dev)
		if err == nil {
			b.debugImage = img
			b.fillDebugSlots()
		}
	}
	return b, nil
}

// fillDebugSlots points every combined-image+sampler slot at the 1x1
// magenta debug texture, so that unbound reads are visible rather
// than silent (spec.md §4.4).
func (b *Bindless) fillDebugSlots() {
	if b.debugImage == nil {
		return
	}
	view := b.debugImage.AllMips()
	for i := 1; i < MaxBindlessCount; i++ {
		b.heap.SetImage(0, 0, i, []driver.ImageView{view})
	}
}

// AllocImage reserves a slot in the combined image+sampler array and
// binds view into it, returning the index shaders should use to
// address the bindless array.
func (b *Bindless) AllocImage(view driver.ImageView) BindlessIndex {
	idx := b.images.alloc()
	b.heap.SetImage(0, 0, int(idx), []driver.ImageView{view})
	return idx
}

// FreeImage releases a previously allocated combined-image+sampler
// slot. The slot is not rewritten until the Deleter guarantees no
// in-flight work can still reference it (spec.md §5 "callers must
// ensure the index is not referenced by in-flight work before
// rewriting it").
func (b *Bindless) FreeImage(idx BindlessIndex) {
	b.dev.Deleter().Enqueue(DeleteFreeIndex, freeIndexFunc(func() {
		b.images.free(idx)
		if b.debugImage != nil {
			b.heap.SetImage(0, 0, int(idx), []driver.ImageView{b.debugImage.AllMips()})
		}
	}))
}

// AllocStorageImage reserves and binds a storage-image bindless slot.
func (b *Bindless) AllocStorageImage(view driver.ImageView) BindlessIndex {
	idx := b.storage.alloc()
	b.heap.SetImage(0, 1, int(idx), []driver.ImageView{view})
	return idx
}

// FreeStorageImage releases a storage-image bindless slot.
func (b *Bindless) FreeStorageImage(idx BindlessIndex) {
	b.dev.Deleter().Enqueue(DeleteFreeIndex, freeIndexFunc(func() { b.storage.free(idx) }))
}

// AllocBuffer reserves and binds a storage-buffer bindless slot.
func (b *Bindless) AllocBuffer(buf driver.Buffer, off, size int64) BindlessIndex {
	idx := b.buffers.alloc()
	b.heap.SetBuffer(0, 2, int(idx), []driver.Buffer{buf}, []int64{off}, []int64{size})
	return idx
}

// FreeBuffer releases a storage-buffer bindless slot.
func (b *Bindless) FreeBuffer(idx BindlessIndex) {
	b.dev.Deleter().Enqueue(DeleteFreeIndex, freeIndexFunc(func() { b.buffers.free(idx) }))
}

// Table returns the driver.DescTable to bind at BindlessSetIndex.
func (b *Bindless) Table() driver.DescTable { return b.table }

func (b *Bindless) destroy() {
	b.table.Destroy()
	b.heap.Destroy()
	if b.debugImage != nil {
		b.debugImage.free()
	}
}

// freeIndexFunc adapts a plain closure to the destroyer interface the
// Deleter expects, so index recycling rides the same frame-delay
// guarantee as every other resource teardown.
type freeIndexFunc func()

func (f freeIndexFunc) Destroy() { f() }
