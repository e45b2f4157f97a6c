// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

// SizeMode is one axis of an ImageSize (spec.md §3). Grounded on
// original_source's graph/pass/mod.rs SizeMode enum (RelativeX/
// RelativeY/Absolute), generalized here to a single mode shared by
// all three axes since depth is always expressed in absolute terms
// for the images this engine creates (3D render targets are not a
// use case the spec calls for; the mode is kept general regardless,
// so a future 3D transient image needs no API change).
type SizeMode struct {
	relative bool
	value    float32 // fraction, when relative
	abs      int      // pixels, when not relative
}

// Absolute returns a SizeMode fixed at n pixels, unaffected by
// Graph.Resize.
func Absolute(n int) SizeMode { return SizeMode{abs: n} }

// Relative returns a SizeMode that tracks a fraction of the graph's
// current size along its axis, recomputed on Graph.Resize.
func Relative(fraction float32) SizeMode { return SizeMode{relative: true, value: fraction} }

// resolve computes the physical pixel size of one axis given the
// current graph dimension along that axis (spec.md §4.8: "Relative(r)
// → ⌊r·graph_dim⌋, Absolute(n) → n").
func (m SizeMode) resolve(graphDim int) int {
	if !m.relative {
		return m.abs
	}
	return int(m.value * float32(graphDim))
}

// ImageSize is the size declaration of a transient image (spec.md
// §3). Depth is almost always 1 (2D images); it is kept absolute-only
// in practice but the type does not special-case it.
type ImageSize struct {
	X, Y, Z SizeMode
}

// AbsoluteSize returns an ImageSize fixed at w x h x d pixels.
func AbsoluteSize(w, h, d int) ImageSize {
	if d < 1 {
		d = 1
	}
	return ImageSize{X: Absolute(w), Y: Absolute(h), Z: Absolute(d)}
}

// RelativeSize returns a 2D ImageSize that tracks fractions fx, fy of
// the graph's current width/height.
func RelativeSize(fx, fy float32) ImageSize {
	return ImageSize{X: Relative(fx), Y: Relative(fy), Z: Absolute(1)}
}

// resolve computes the physical extent given the current graph
// dimensions (spec.md §4.8, §8 "Resize" scenario).
func (s ImageSize) resolve(graphW, graphH int) (w, h, d int) {
	w = s.X.resolve(graphW)
	h = s.Y.resolve(graphH)
	d = s.Z.resolve(graphW) // Z is never relative in practice; graphW is a harmless base.
	if d < 1 {
		d = 1
	}
	return
}

// isRelative reports whether any axis tracks the graph size, meaning
// the image must be reallocated on Graph.Resize (spec.md §4.8).
func (s ImageSize) isRelative() bool {
	return s.X.relative || s.Y.relative || s.Z.relative
}
