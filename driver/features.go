// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

// Features is a mask of optional GPU capabilities a Driver may
// support. NewDevice-style callers request the subset they need;
// Limits and feature support together describe what a given
// driver/device pairing can do (spec.md §6 "GPU API feature floor").
type Features int

// Feature flags required by the render graph engine (spec.md §6).
const (
	FSamplerAnisotropy Features = 1 << iota
	FSamplerFilterMinmax
	FFillModeNonSolid
	FIndependentBlend
	FDescriptorIndexing
	FPartiallyBound
	FUpdateAfterBind
	FRuntimeDescriptorArray
)

// FeatureQuerier is implemented by a GPU that can report which
// optional Features its physical device actually enabled.
type FeatureQuerier interface {
	Features() Features
}

// RequiredFeatures is the feature floor this engine's pipeline and
// descriptor-indexing (bindless) machinery assumes (spec.md §6).
const RequiredFeatures = FSamplerAnisotropy | FSamplerFilterMinmax | FFillModeNonSolid |
	FIndependentBlend | FDescriptorIndexing | FPartiallyBound | FUpdateAfterBind | FRuntimeDescriptorArray

// Has reports whether all features in want are present in f.
func (f Features) Has(want Features) bool { return f&want == want }
