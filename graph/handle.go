// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

// kind identifies the resource type that a Handle indexes into.
type kind int

const (
	imageKind kind = iota
	bufferKind
)

// Handle is a typed (resource-kind, opaque index) pair owned by a
// Graph (spec.md §3). It is comparable and cheap to copy; external
// code never dereferences the index directly, it always passes the
// Handle back into the Graph that produced it.
//
// The name field carries a debug label, used in panic messages. Handle
// is a plain comparable struct, so name takes part in ==: two Handles
// referring to the same resource but constructed with different names
// would not compare equal, which never happens since a Handle is only
// ever produced once, by CreateImage/CreateBuffer.
type Handle[T any] struct {
	kind  kind
	index int
	name  string
}

// ImageHandle references an Image owned by a Graph.
type ImageHandle = Handle[Image]

// BufferHandle references a Buffer owned by a Graph.
type BufferHandle = Handle[Buffer]

// Name returns the debug name the handle was created with.
func (h Handle[T]) Name() string { return h.name }

// valid reports whether h is not the invalidHandle sentinel (index
// -1). The zero Handle has index 0 and counts as valid.
func (h Handle[T]) valid() bool { return h.index >= 0 }

func newHandle[T any](k kind, index int, name string) Handle[T] {
	return Handle[T]{kind: k, index: index, name: name}
}

// invalidHandle is returned by lookups that fail; index -1 can never
// be produced by Resources.addImage/addBuffer.
func invalidHandle[T any]() Handle[T] { return Handle[T]{index: -1} }
