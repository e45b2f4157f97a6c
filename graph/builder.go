// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import "github.com/kestrelgfx/rengraph/driver"

// Resources is the Graph-owned storage that handles index into. It is
// passed to every pass's record callback so the callback can resolve
// its declared handles to the concrete *Image/*Buffer without holding
// a back-reference to the Graph itself (spec.md §9 "handles are plain
// indices into Graph-owned storages, so no back-pointers exist").
type Resources struct {
	images  []*Image
	buffers []*Buffer

	graphWidth, graphHeight int
}

func (r *Resources) addImage(name string, img *Image) ImageHandle {
	r.images = append(r.images, img)
	return newHandle[Image](imageKind, len(r.images)-1, name)
}

func (r *Resources) addBuffer(name string, buf *Buffer) BufferHandle {
	r.buffers = append(r.buffers, buf)
	return newHandle[Buffer](bufferKind, len(r.buffers)-1, name)
}

// Image resolves h to its backing *Image.
func (r *Resources) Image(h ImageHandle) *Image {
	invariant(h.valid() && h.index < len(r.images), "invalid image handle %q", h.Name())
	return r.images[h.index]
}

// Buffer resolves h to its backing *Buffer.
func (r *Resources) Buffer(h BufferHandle) *Buffer {
	invariant(h.valid() && h.index < len(r.buffers), "invalid buffer handle %q", h.Name())
	return r.buffers[h.index]
}

// GraphBuilder accumulates created resources and declared passes,
// validates them, and hands the result to the compiler (spec.md
// §4.7).
//
// Grounded on spec.md §4.7's create_image/add_pass operation pair;
// the teacher has no direct analogue (engine.Engine assembles a fixed
// render path rather than a declarative graph), so the builder's
// shape follows the spec directly while reusing the teacher's
// prefix+reason error idiom throughout.
type GraphBuilder struct {
	dev *Device

	width, height int
	resources     *Resources
	passes        []*Pass
	names         map[string]bool
}

// NewGraphBuilder creates a builder for a graph sized width x height
// (the "graph size" every RelativeSize image and render area resolves
// against).
func NewGraphBuilder(dev *Device, width, height int) *GraphBuilder {
	return &GraphBuilder{
		dev: dev, width: width, height: height,
		resources: &Resources{graphWidth: width, graphHeight: height},
		names:     make(map[string]bool),
	}
}

// CreateImage allocates an image of the given config and size,
// returning a handle the builder's passes can reference.
func (b *GraphBuilder) CreateImage(name string, cfg ImageConfig, size ImageSize) (ImageHandle, error) {
	w, h, d := size.resolve(b.width, b.height)
	img, err := newImage(b.dev, cfg, w, h, d, size)
	if err != nil {
		return invalidHandle[Image](), err
	}
	return b.resources.addImage(name, img), nil
}

// CreateBuffer allocates a buffer of the given size/visibility,
// returning a handle the builder's passes can reference.
func (b *GraphBuilder) CreateBuffer(name string, size int64, visible bool, usage driver.Usage) (BufferHandle, error) {
	buf, err := newBuffer(b.dev, size, visible, usage)
	if err != nil {
		return invalidHandle[Buffer](), err
	}
	return b.resources.addBuffer(name, buf), nil
}

// AddPass registers pass with the builder. Per-pass structural
// validation (duplicate handles in its own input/output lists) is
// performed immediately via invariant(), since it is a programmer
// error (spec.md §4.7 rule 4, §7 "Programmer errors (panic)").
// Cross-pass validation (unique names, present-pass position) is
// deferred to Build.
func (b *GraphBuilder) AddPass(p *Pass) {
	seen := make(map[string]bool, len(p.Inputs)+len(p.Outputs))
	for _, in := range p.Inputs {
		n := in.handleName()
		invariant(!seen[n], "pass %q: handle %q declared twice in input list", p.Name, n)
		seen[n] = true
	}
	seen = make(map[string]bool, len(p.Outputs))
	for _, out := range p.Outputs {
		n := out.handleName()
		invariant(!seen[n], "pass %q: handle %q declared twice in output list", p.Name, n)
		seen[n] = true
	}
	b.passes = append(b.passes, p)
}

// Build validates the accumulated passes and compiles them into a
// CompiledGraph (spec.md §4.7, §4.8).
func (b *GraphBuilder) Build() (*CompiledGraph, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	return compile(b.dev, b.resources, b.passes, b.width, b.height)
}

func (b *GraphBuilder) validate() error {
	seen := make(map[string]bool, len(b.passes))
	presentIdx := -1
	for i, p := range b.passes {
		if seen[p.Name] {
			return buildErr(p.Name, ErrDuplicatePassName)
		}
		seen[p.Name] = true
		if p.Present {
			if presentIdx != -1 {
				return buildErr(p.Name, ErrPresentNotLast)
			}
			presentIdx = i
		}
		if err := b.validateAccess(p); err != nil {
			return err
		}
	}
	if presentIdx != -1 && presentIdx != len(b.passes)-1 {
		return buildErr(b.passes[presentIdx].Name, ErrPresentNotLast)
	}
	return nil
}

// validateAccess enforces spec.md §4.7 rule 3: every Input's access
// must be a read access, every Output's a write access. This is a
// programmer error, so it panics via invariant rather than returning
// a BuildError.
func (b *GraphBuilder) validateAccess(p *Pass) error {
	for _, in := range p.Inputs {
		invariant(isReadAccess(in.Access), "pass %q: input %q uses non-read access %v", p.Name, in.handleName(), in.Access)
	}
	for _, out := range p.Outputs {
		invariant(isWriteAccess(out.Access), "pass %q: output %q uses non-write access %v", p.Name, out.handleName(), out.Access)
	}
	return nil
}
