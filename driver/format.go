// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

// FormatQuerier is implemented by a GPU that can report whether a
// given PixelFmt supports the optimal-tiling depth/stencil-attachment
// feature on the current physical device. It backs the depth format
// negotiation described in graph's Device (spec.md §4.1).
type FormatQuerier interface {
	// SupportsDepthAttachment reports whether pf can be used as a
	// depth (or depth/stencil) render target with optimal tiling.
	SupportsDepthAttachment(pf PixelFmt) bool
}

// DepthStencilPreference is the fixed preference list consulted by
// graph's supportedDepthStencilFormat (spec.md §4.1, §6).
var DepthStencilPreference = []PixelFmt{D32fS8ui, D24unS8ui}

// DepthOnlyPreference is the fixed preference list consulted by
// graph's supportedDepthOnlyFormat.
var DepthOnlyPreference = []PixelFmt{D32f, D16un}
