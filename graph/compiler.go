// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"fmt"
	"sort"

	"github.com/kestrelgfx/rengraph/driver"
)

// resourceRef names one Graph-owned resource independent of which
// pass touches it, used as the compiler's dependency-tracking key.
type resourceRef struct {
	kind  kind
	index int
}

// plannedBarrier is one entry of the compiler's barrier plan (spec.md
// §4.8 "Barrier plan"): the synchronization needed to move ref from
// its previous recorded access to the access the owning pass performs.
type plannedBarrier struct {
	ref        resourceRef
	isImage    bool
	transition driver.Transition // valid when isImage
	barrier    driver.Barrier    // valid when !isImage
}

// attachmentPlan is the grouped DrawImage outputs of one PassRender
// pass (spec.md §4.8 "Attachment grouping").
type attachmentPlan struct {
	colorHandles []ImageHandle
	colorConfigs []AttachmentConfig

	hasDepth    bool
	depthHandle ImageHandle
	depthConfig AttachmentConfig
}

// CompiledGraph is the Builder's output: a topological pass order, a
// precomputed barrier plan, and render-pass attachment groupings
// (spec.md §4.8). It is re-derived wholesale on Resize, since a
// changed graph size can change both transient image extents and
// which barriers are needed.
type CompiledGraph struct {
	dev       *Device
	resources *Resources
	passes    []*Pass

	order       []int
	barriers    map[int][]plannedBarrier
	attachments map[int]*attachmentPlan

	width, height int
}

// compile builds a CompiledGraph from a validated pass list (spec.md
// §4.8). Grounded on original_source's graph/compile.rs pass; the
// stable Kahn's-algorithm sort below keeps the "ties broken by
// pass-list insertion order" guarantee spec.md §4.8 requires by always
// preferring the lowest-index ready pass.
func compile(dev *Device, res *Resources, passes []*Pass, width, height int) (*CompiledGraph, error) {
	order, err := topoSort(passes)
	if err != nil {
		return nil, err
	}
	barriers := planBarriers(res, passes, order)
	attachments := groupAttachments(passes)
	return &CompiledGraph{
		dev: dev, resources: res, passes: passes,
		order: order, barriers: barriers, attachments: attachments,
		width: width, height: height,
	}, nil
}

func inputRef(in Input) resourceRef {
	if in.Kind == InputReadImage {
		return resourceRef{imageKind, in.Image.index}
	}
	return resourceRef{bufferKind, in.Buffer.index}
}

func outputRef(out Output) resourceRef {
	if out.Kind == OutputWriteStorageBuffer {
		return resourceRef{bufferKind, out.Buffer.index}
	}
	return resourceRef{imageKind, out.Image.index}
}

// topoSort derives the pass DAG (an edge P -> Q exists iff some
// handle is output of P and input of Q) and performs a stable
// Kahn's-algorithm topological sort: at every step the lowest-index
// ready pass is scheduled next, matching spec.md §4.8's "ties broken
// by pass-list insertion order (stable)".
//
// Producers are resolved in a first pass over the whole list before
// any edges are built, so a pass's position in the caller's slice
// never determines whether a dependency is detected — only a
// resource written by more than one pass uses declaration order (the
// last writer in the slice wins), matching a ping-pong write pattern.
func topoSort(passes []*Pass) ([]int, error) {
	n := len(passes)
	adjOut := make([][]int, n)
	indeg := make([]int, n)
	producer := make(map[resourceRef]int, n)

	for i, p := range passes {
		for _, out := range p.Outputs {
			producer[outputRef(out)] = i
		}
	}

	for i, p := range passes {
		for _, in := range p.Inputs {
			ref := inputRef(in)
			if w, ok := producer[ref]; ok && w != i {
				adjOut[w] = append(adjOut[w], i)
				indeg[i]++
			}
		}
	}

	done := make([]bool, n)
	degree := append([]int(nil), indeg...)
	order := make([]int, 0, n)
	for len(order) < n {
		progressed := false
		for i := 0; i < n; i++ {
			if done[i] || degree[i] != 0 {
				continue
			}
			order = append(order, i)
			done[i] = true
			progressed = true
			for _, j := range adjOut[i] {
				degree[j]--
			}
			break
		}
		if !progressed {
			return nil, buildErr("", fmt.Errorf("cycle in pass dependency graph"))
		}
	}
	return order, nil
}

// planBarriers walks passes in topological order, tracking the last
// recorded access of every resource, and records a barrier wherever
// IsHazard reports true (spec.md §4.8 "Barrier plan", "Hazard
// filter").
func planBarriers(res *Resources, passes []*Pass, order []int) map[int][]plannedBarrier {
	lastAccess := make(map[resourceRef]AccessType)
	plan := make(map[int][]plannedBarrier, len(passes))

	record := func(pbarriers *[]plannedBarrier, ref resourceRef, access AccessType, isImage bool, view driver.ImageView, buf driver.Buffer) {
		prev, ok := lastAccess[ref]
		if !ok {
			prev = ANothing
		}
		if IsHazard(prev, access) {
			if isImage {
				*pbarriers = append(*pbarriers, plannedBarrier{ref: ref, isImage: true, transition: transitionFor(prev, access, view)})
			} else {
				*pbarriers = append(*pbarriers, plannedBarrier{ref: ref, isImage: false, barrier: barrierFor(prev, access)})
			}
		}
		lastAccess[ref] = access
	}

	for _, pi := range order {
		p := passes[pi]
		var pbarriers []plannedBarrier
		for _, in := range p.Inputs {
			ref := inputRef(in)
			if in.Kind == InputReadImage {
				img := res.Image(in.Image)
				record(&pbarriers, ref, in.Access, true, img.AllMips(), nil)
			} else {
				buf := res.Buffer(in.Buffer)
				record(&pbarriers, ref, in.Access, false, nil, buf.Driver())
			}
		}
		for _, out := range p.Outputs {
			ref := outputRef(out)
			if out.Kind == OutputWriteStorageBuffer {
				buf := res.Buffer(out.Buffer)
				record(&pbarriers, ref, out.Access, false, nil, buf.Driver())
			} else {
				img := res.Image(out.Image)
				record(&pbarriers, ref, out.Access, true, img.AllMips(), nil)
			}
		}
		plan[pi] = pbarriers
	}
	return plan
}

// groupAttachments builds the attachmentPlan for every PassRender
// pass (spec.md §4.8 "Attachment grouping"): color outputs sorted by
// Location, at most one depth(+stencil) attachment.
func groupAttachments(passes []*Pass) map[int]*attachmentPlan {
	plans := make(map[int]*attachmentPlan, len(passes))
	for i, p := range passes {
		if p.Kind != PassRender {
			continue
		}
		plan := &attachmentPlan{}
		var colors []Output
		for _, out := range p.Outputs {
			if out.Kind != OutputDrawImage {
				continue
			}
			switch out.Attachment.Kind {
			case AttachColor:
				colors = append(colors, out)
			case AttachDepthStencil, AttachDepthOnly:
				invariant(!plan.hasDepth, "pass %q: more than one depth attachment", p.Name)
				plan.hasDepth = true
				plan.depthHandle = out.Image
				plan.depthConfig = out.Attachment
			}
		}
		sort.Slice(colors, func(a, b int) bool {
			return colors[a].Attachment.Location < colors[b].Attachment.Location
		})
		for _, c := range colors {
			plan.colorHandles = append(plan.colorHandles, c.Image)
			plan.colorConfigs = append(plan.colorConfigs, c.Attachment)
		}
		plans[i] = plan
	}
	return plans
}

// Order returns the pass indices (into Pass) in compiled topological
// order.
func (g *CompiledGraph) Order() []int { return g.order }

// Pass returns the pass at original index i.
func (g *CompiledGraph) Pass(i int) *Pass { return g.passes[i] }

// Barriers returns the planned barriers for the pass at original
// index i, to be emitted immediately before that pass's scope begins.
func (g *CompiledGraph) Barriers(i int) []plannedBarrier { return g.barriers[i] }

// Attachments returns the attachment plan for the render pass at
// original index i, if any.
func (g *CompiledGraph) Attachments(i int) (*attachmentPlan, bool) {
	p, ok := g.attachments[i]
	return p, ok
}

// Resources returns the Graph-owned resource storage.
func (g *CompiledGraph) Resources() *Resources { return g.resources }

// Size returns the graph's current width/height.
func (g *CompiledGraph) Size() (int, int) { return g.width, g.height }

// Resize reallocates every relative-size image against the new graph
// dimensions and recomputes the barrier plan, since a resize can
// change which layouts transient images start from (spec.md §4.8
// "Transient image allocation", §8 scenario 4). Render-pass and
// framebuffer caches keyed on the old image views are invalidated by
// the Executor, which owns them, after this call returns.
func (g *CompiledGraph) Resize(width, height int) error {
	for i, img := range g.resources.images {
		if !img.size.isRelative() {
			continue
		}
		w, h, d := img.size.resolve(width, height)
		newImg, err := newImage(g.dev, img.cfg, w, h, d, img.size)
		if err != nil {
			return buildErr("", err)
		}
		img.enqueueFree()
		g.resources.images[i] = newImg
	}
	g.width, g.height = width, height
	g.barriers = planBarriers(g.resources, g.passes, g.order)
	return nil
}
