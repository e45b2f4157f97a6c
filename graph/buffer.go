// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"errors"

	"github.com/kestrelgfx/rengraph/driver"
)

const bufPrefix = "graph: buffer: "

// Buffer wraps a driver.Buffer plus the bookkeeping needed to service
// Upload (spec.md §3, §4.2). Host-visible buffers are persistently
// mapped (driver.Buffer.Bytes is valid for the buffer's whole
// lifetime, per the driver contract); device-local buffers route
// uploads through the shared staging pool (graph/staging.go) and a
// transfer-queue copy.
//
// Grounded on engine/mesh.go's buffer handling, generalized from that
// file's vertex/index-specific upload path to any usage.
type Buffer struct {
	dev *Device

	buf     driver.Buffer
	size    int64
	visible bool
}

func newBufErr(reason string) error { return errors.New(bufPrefix + reason) }

// newBuffer creates a Buffer of the given size. visible requests
// host-visible (mappable) memory; when false, Upload stages through
// the transfer queue instead.
func newBuffer(dev *Device, size int64, visible bool, usage driver.Usage) (*Buffer, error) {
	if size < 1 {
		return nil, newBufErr("invalid size")
	}
	b, err := dev.gpu.NewBuffer(size, visible, usage)
	if err != nil {
		return nil, err
	}
	return &Buffer{dev: dev, buf: b, size: size, visible: visible}, nil
}

// Size returns the buffer's size in bytes.
func (b *Buffer) Size() int64 { return b.size }

// Visible reports whether the buffer is host-visible.
func (b *Buffer) Visible() bool { return b.visible }

// Driver returns the underlying driver.Buffer, for use in
// driver.CmdBuffer Set*/Copy* calls.
func (b *Buffer) Driver() driver.Buffer { return b.buf }

// Upload writes data at offset (spec.md §4.2 "upload(data, offset)").
// For a host-visible buffer this is a direct memcpy into the mapped
// range; for a device-local buffer the caller must instead use
// UploadVia, which stages the copy through a transfer command buffer
// (device-local buffers have no host-visible memory, so Upload alone
// cannot satisfy them — see engine/mesh.go's equivalent split).
func (b *Buffer) Upload(data []byte, offset int64) error {
	if !b.visible {
		return newBufErr("Upload called on device-local buffer; use UploadVia")
	}
	if offset < 0 || offset+int64(len(data)) > b.size {
		return newBufErr("upload range out of bounds")
	}
	copy(b.buf.Bytes()[offset:], data)
	return nil
}

// UploadVia stages data into a scratch staging buffer from pool and
// records a CopyBuffer command into cb targeting this buffer at
// offset. The caller is responsible for submitting cb (typically the
// Executor's per-frame transfer step) and keeping the staging
// allocation alive until that submission completes, which pool
// guarantees by routing its reclamation through the Deleter.
func (b *Buffer) UploadVia(cb driver.CmdBuffer, pool *stagingPool, data []byte, offset int64) error {
	if offset < 0 || offset+int64(len(data)) > b.size {
		return newBufErr("upload range out of bounds")
	}
	stg, stgOff, err := pool.alloc(int64(len(data)))
	if err != nil {
		return err
	}
	copy(stg.Bytes()[stgOff:], data)
	cb.CopyBuffer(&driver.BufferCopy{
		From: stg, FromOff: stgOff,
		To: b.buf, ToOff: offset,
		Size: int64(len(data)),
	})
	return nil
}

func (b *Buffer) enqueueFree() {
	b.dev.Deleter().Enqueue(DeleteBuffer, b.buf)
}
