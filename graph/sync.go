// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import "github.com/kestrelgfx/rengraph/driver"

// AccessType is a closed enumeration naming how a resource is used at
// one point in the graph (spec.md §4.12, GLOSSARY "Access type").
// Grounded on original_source's barrier.rs AccessType enum; the Go
// enumeration keeps the same members, flattened to the stage/read-
// write pairs the engine actually needs rather than every historical
// fixed-function stage the source also lists.
type AccessType int

const (
	ANothing AccessType = iota

	AIndirectBuffer
	AIndexBuffer
	AVertexBuffer

	AVertexShaderRead
	AVertexShaderWrite
	AFragmentShaderRead
	AFragmentShaderWrite
	AComputeShaderRead
	AComputeShaderWrite

	AColorAttachmentRead
	AColorAttachmentWrite
	AColorAttachmentReadWrite

	ADepthStencilAttachmentRead
	ADepthStencilAttachmentWrite
	ADepthStencilAttachmentReadWrite
	// ...ReadOnly hybrids: depth tested but not written, still usable
	// as a sampled input by a later pass without a layout change.
	ADepthAttachmentReadStencilReadOnly
	AStencilAttachmentReadDepthReadOnly

	ATransferRead
	ATransferWrite

	AHostRead
	AHostWrite

	APresent
	AGeneral
)

// accessInfo is the {stage, access-mask, layout, writable} tuple that
// AccessType maps to (spec.md §4.12's "single source of truth").
type accessInfo struct {
	stage    driver.Sync
	access   driver.Access
	layout   driver.Layout
	writable bool
}

// accessTable is indexed by AccessType. It is the one place that
// knows how an access type translates into a driver-level barrier
// endpoint; every other component goes through accessOf.
var accessTable = [...]accessInfo{
	ANothing: {driver.SNone, driver.ANone, driver.LUndefined, false},

	AIndirectBuffer: {driver.SDraw, driver.AAnyRead, driver.LUndefined, false},
	AIndexBuffer:    {driver.SVertexInput, driver.AIndexBufRead, driver.LUndefined, false},
	AVertexBuffer:   {driver.SVertexInput, driver.AVertexBufRead, driver.LUndefined, false},

	AVertexShaderRead:   {driver.SVertexShading, driver.AShaderRead, driver.LShaderRead, false},
	AVertexShaderWrite:  {driver.SVertexShading, driver.AShaderWrite, driver.LCommon, true},
	AFragmentShaderRead: {driver.SFragmentShading, driver.AShaderRead, driver.LShaderRead, false},
	AFragmentShaderWrite: {driver.SFragmentShading, driver.AShaderWrite, driver.LCommon, true},
	AComputeShaderRead:  {driver.SComputeShading, driver.AShaderRead, driver.LShaderRead, false},
	AComputeShaderWrite: {driver.SComputeShading, driver.AShaderWrite, driver.LCommon, true},

	AColorAttachmentRead:      {driver.SColorOutput, driver.AColorRead, driver.LColorTarget, false},
	AColorAttachmentWrite:     {driver.SColorOutput, driver.AColorWrite, driver.LColorTarget, true},
	AColorAttachmentReadWrite: {driver.SColorOutput, driver.AColorRead | driver.AColorWrite, driver.LColorTarget, true},

	ADepthStencilAttachmentRead:      {driver.SDSOutput, driver.ADSRead, driver.LDSRead, false},
	ADepthStencilAttachmentWrite:     {driver.SDSOutput, driver.ADSWrite, driver.LDSTarget, true},
	ADepthStencilAttachmentReadWrite: {driver.SDSOutput, driver.ADSRead | driver.ADSWrite, driver.LDSTarget, true},
	ADepthAttachmentReadStencilReadOnly: {driver.SDSOutput, driver.ADSRead, driver.LDSRead, false},
	AStencilAttachmentReadDepthReadOnly: {driver.SDSOutput, driver.ADSRead, driver.LDSRead, false},

	ATransferRead:  {driver.SCopy, driver.ACopyRead, driver.LCopySrc, false},
	ATransferWrite: {driver.SCopy, driver.ACopyWrite, driver.LCopyDst, true},

	AHostRead:  {driver.SNone, driver.AAnyRead, driver.LCommon, false},
	AHostWrite: {driver.SNone, driver.AAnyWrite, driver.LCommon, true},

	APresent: {driver.SNone, driver.ANone, driver.LPresent, false},
	AGeneral: {driver.SAll, driver.AAnyRead | driver.AAnyWrite, driver.LCommon, true},
}

// accessOf returns the driver-level tuple for a, panicking if a is
// out of range (a programmer error: an invalid access type literal).
func accessOf(a AccessType) accessInfo {
	invariant(int(a) >= 0 && int(a) < len(accessTable), "invalid access type %d", a)
	return accessTable[a]
}

// isReadAccess reports whether a is in the read-only subset used to
// validate Input declarations at build time (spec.md §4.7 rule 3).
func isReadAccess(a AccessType) bool { return !accessOf(a).writable }

// isWriteAccess reports whether a is in the write subset used to
// validate Output declarations at build time.
func isWriteAccess(a AccessType) bool { return accessOf(a).writable }

// IsHazard reports whether a barrier must be emitted between a
// resource use tagged prev and one tagged next (spec.md §4.8 "Hazard
// filter", §4.12). Grounded on original_source's barrier.rs
// is_hazard: true unless both accesses are read-only, in which case
// read-after-read needs no synchronization.
func IsHazard(prev, next AccessType) bool {
	return accessOf(prev).writable || accessOf(next).writable
}

// barrierFor builds the driver.Barrier describing the synchronization
// needed to move a resource use from prev to next; transitionFor
// wraps it with the matching layout change for images.
func barrierFor(prev, next AccessType) driver.Barrier {
	p, n := accessOf(prev), accessOf(next)
	return driver.Barrier{
		SyncBefore:   p.stage,
		SyncAfter:    n.stage,
		AccessBefore: p.access,
		AccessAfter:  n.access,
	}
}

func transitionFor(prev, next AccessType, iv driver.ImageView) driver.Transition {
	p, n := accessOf(prev), accessOf(next)
	return driver.Transition{
		Barrier:      barrierFor(prev, next),
		LayoutBefore: p.layout,
		LayoutAfter:  n.layout,
		IView:        iv,
	}
}
