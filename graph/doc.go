// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package graph implements a render graph: a user declares render and
// compute passes with their image/buffer inputs and outputs, and the
// graph orders the passes, inserts the GPU barriers required between
// producers and consumers, allocates transient images sized relative
// to the output window, and caches the pipelines, descriptor sets and
// render passes/framebuffers the recorded commands demand.
//
// The package builds on top of driver, the backend-agnostic GPU
// abstraction; graph adds no new
// GPU primitives of its own, it only orders and caches their use.
package graph
