// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

// FramesInFlight is the number of frame contexts the Executor keeps
// in its ring (spec.md §4.10 "FRAMES_IN_FLIGHT = 2"), and therefore
// the number of slots PerFrame rotates between. Grounded on the
// teacher's engine.Renderer NFrame constant (also 2), generalized
// here from a package constant tied to one renderer type into a
// parameter every PerFrame instance shares.
const FramesInFlight = 2

// PerFrame wraps two independent instances of T, indexed by frame
// parity, so the producer can write the slot for frame N while the
// GPU still reads the slot written for frame N-1 (spec.md §3).
// Typical T is *Buffer, for per-frame uniform data.
type PerFrame[T any] struct {
	slots [FramesInFlight]T
	cur   int
}

// NewPerFrame creates a PerFrame whose slots are produced by calling
// make once per slot.
func NewPerFrame[T any](make func(slot int) T) PerFrame[T] {
	var pf PerFrame[T]
	for i := range pf.slots {
		pf.slots[i] = make(i)
	}
	return pf
}

// Get returns the slot for the current frame (spec.md §4.2 ".get()").
func (pf *PerFrame[T]) Get() T { return pf.slots[pf.cur] }

// GetMut is the mutable-access counterpart to Get; since Go has no
// separate mutable-reference type, it behaves identically to Get and
// exists to mirror the source API named in spec.md §4.2
// (".get_mut()") for callers translating that contract directly.
func (pf *PerFrame[T]) GetMut() T { return pf.slots[pf.cur] }

// Advance rotates to the next frame's slot. The Executor calls this
// once per executed frame, right after committing the current slot;
// it waits for the new slot's previous submission at the start of the
// next Frame.
func (pf *PerFrame[T]) Advance() { pf.cur = (pf.cur + 1) % FramesInFlight }

// Index returns the currently selected slot index.
func (pf *PerFrame[T]) Index() int { return pf.cur }

// Each calls fn once per slot, in slot order — used for teardown.
func (pf *PerFrame[T]) Each(fn func(slot int, v T)) {
	for i, v := range pf.slots {
		fn(i, v)
	}
}
