// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"hash/fnv"

	"github.com/kestrelgfx/rengraph/driver"
)

// PassKind tags whether a Pass records graphics or compute commands
// (spec.md §3 "Pass-kind (Render | Compute)"; DESIGN NOTES "Dynamic
// dispatch over pass kind: a tagged variant with two cases").
type PassKind int

const (
	PassRender PassKind = iota
	PassCompute
)

// InputKind tags the two shapes an Input declaration can take.
type InputKind int

const (
	InputReadImage InputKind = iota
	InputReadStorageBuffer
)

// Input is one resource a Pass reads (spec.md §3 "Pass declarations").
type Input struct {
	Kind   InputKind
	Image  ImageHandle
	Buffer BufferHandle
	Access AccessType
}

// ReadImage declares a read of an image at access (must be in the
// read-access subset; see IsHazard/accessOf).
func ReadImage(h ImageHandle, access AccessType) Input {
	return Input{Kind: InputReadImage, Image: h, Access: access}
}

// ReadStorageBuffer declares a read of a storage buffer at access.
func ReadStorageBuffer(h BufferHandle, access AccessType) Input {
	return Input{Kind: InputReadStorageBuffer, Buffer: h, Access: access}
}

func (in Input) handleName() string {
	if in.Kind == InputReadImage {
		return in.Image.Name()
	}
	return in.Buffer.Name()
}

// OutputKind tags the three shapes an Output declaration can take.
type OutputKind int

const (
	OutputWriteImage OutputKind = iota
	OutputDrawImage
	OutputWriteStorageBuffer
)

// AttachmentKind is the kind of render-pass attachment a DrawImage
// output binds to.
type AttachmentKind int

const (
	AttachColor AttachmentKind = iota
	AttachDepthStencil
	AttachDepthOnly
)

// AttachmentConfig is the spec.md §3 "attachment config": attachment
// kind, write-side access, and independent color/stencil load-store
// policy.
type AttachmentConfig struct {
	Kind     AttachmentKind
	Location int // meaningful only when Kind == AttachColor
	Access   AccessType

	ColorLoad   driver.LoadOp
	ColorStore  driver.StoreOp
	StencilLoad driver.LoadOp
	StencilStore driver.StoreOp
}

// Output is one resource a Pass writes.
type Output struct {
	Kind       OutputKind
	Image      ImageHandle
	Buffer     BufferHandle
	Access     AccessType
	Attachment AttachmentConfig
}

// WriteImage declares a non-attachment image write.
func WriteImage(h ImageHandle, access AccessType) Output {
	return Output{Kind: OutputWriteImage, Image: h, Access: access}
}

// DrawImage declares an attachment write (color, depth/stencil, or
// depth-only) using cfg's access type.
func DrawImage(h ImageHandle, cfg AttachmentConfig) Output {
	return Output{Kind: OutputDrawImage, Image: h, Access: cfg.Access, Attachment: cfg}
}

// WriteStorageBuffer declares a storage-buffer write.
func WriteStorageBuffer(h BufferHandle, access AccessType) Output {
	return Output{Kind: OutputWriteStorageBuffer, Buffer: h, Access: access}
}

func (out Output) handleName() string {
	switch out.Kind {
	case OutputWriteStorageBuffer:
		return out.Buffer.Name()
	default:
		return out.Image.Name()
	}
}

// RecordInfo is passed to every pass's record callback (spec.md §6
// "record_info exposes {framebuffer_width, framebuffer_height}").
type RecordInfo struct {
	Width  int
	Height int
}

// RenderRecordFunc records commands for a PassRender pass.
type RenderRecordFunc func(scope *RenderScope, res *Resources, info RecordInfo, args any)

// ComputeRecordFunc records commands for a PassCompute pass.
type ComputeRecordFunc func(scope *ComputeScope, res *Resources, info RecordInfo, args any)

// Pass is one node of the render graph (spec.md §3 "Pass"): a unique
// name, kind, declared inputs/outputs, and exactly one of
// RecordRender/RecordCompute depending on Kind.
type Pass struct {
	Name    string
	id      uint64
	Kind    PassKind
	Inputs  []Input
	Outputs []Output

	// RenderArea is resolved against the graph size to produce the
	// pass's framebuffer extent (Kind == PassRender only).
	RenderArea ImageSize
	// Present marks this as the graph's single swapchain-presenting
	// pass (Kind == PassRender only; spec.md §3 invariant "at most one
	// pass may be flagged present; it must be the final pass").
	Present bool

	RecordRender  RenderRecordFunc
	RecordCompute ComputeRecordFunc
}

func passID(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// NewRenderPass creates a render Pass with the given render area and
// record callback. Further inputs/outputs/present are attached via
// Read/Write/MarkPresent, which return the same *Pass for
// chaining.
func NewRenderPass(name string, area ImageSize, record RenderRecordFunc) *Pass {
	return &Pass{Name: name, id: passID(name), Kind: PassRender, RenderArea: area, RecordRender: record}
}

// NewComputePass creates a compute Pass with the given record
// callback.
func NewComputePass(name string, record ComputeRecordFunc) *Pass {
	return &Pass{Name: name, id: passID(name), Kind: PassCompute, RecordCompute: record}
}

// Read appends one or more Input declarations and returns p.
func (p *Pass) Read(in ...Input) *Pass {
	p.Inputs = append(p.Inputs, in...)
	return p
}

// Write appends one or more Output declarations and returns p.
func (p *Pass) Write(out ...Output) *Pass {
	p.Outputs = append(p.Outputs, out...)
	return p
}

// MarkPresent flags p as the graph's presenting pass and returns p.
func (p *Pass) MarkPresent() *Pass {
	p.Present = true
	return p
}

// ID returns the pass's stable 64-bit name hash.
func (p *Pass) ID() uint64 { return p.id }
