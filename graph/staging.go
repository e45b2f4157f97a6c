// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"errors"
	"sync"

	"github.com/kestrelgfx/rengraph/driver"
)

const stgPrefix = "graph: staging: "

// stagingPool is a small bump allocator over a single host-visible
// buffer, reset once per frame. Device-local Buffer/Image uploads
// request a range from it, memcpy their data in, and record a copy
// command targeting the destination; the pool's own buffer is
// recycled rather than destroyed each frame.
//
// Grounded on engine/staging.go's per-frame staging-buffer pool,
// generalized from that file's texture-upload-specific cache to a
// buffer shared by both Buffer.UploadVia and Image uploads.
type stagingPool struct {
	dev *Device

	mu   sync.Mutex
	buf  driver.Buffer
	cap  int64
	used int64
}

func newStagingErr(reason string) error { return errors.New(stgPrefix + reason) }

// newStagingPool creates a pool with the given initial capacity.
func newStagingPool(dev *Device, capacity int64) (*stagingPool, error) {
	if capacity < 1 {
		capacity = 1 << 20 // 1 MiB default.
	}
	buf, err := dev.gpu.NewBuffer(capacity, true, driver.UGeneric)
	if err != nil {
		return nil, err
	}
	return &stagingPool{dev: dev, buf: buf, cap: capacity}, nil
}

// alloc reserves size bytes from the pool's current frame range,
// returning the backing driver.Buffer and the offset reserved.
// It grows the pool (discarding the old buffer through the Deleter)
// if the request does not fit, matching engine/staging.go's
// grow-on-demand policy.
func (p *stagingPool) alloc(size int64) (driver.Buffer, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size < 0 {
		return nil, 0, newStagingErr("negative size")
	}
	if p.used+size > p.cap {
		if err := p.grow(p.used + size); err != nil {
			return nil, 0, err
		}
	}
	off := p.used
	p.used += size
	return p.buf, off, nil
}

func (p *stagingPool) grow(need int64) error {
	newCap := p.cap * 2
	for newCap < need {
		newCap *= 2
	}
	buf, err := p.dev.gpu.NewBuffer(newCap, true, driver.UGeneric)
	if err != nil {
		return err
	}
	p.dev.Deleter().Enqueue(DeleteBuffer, p.buf)
	p.buf = buf
	p.cap = newCap
	return nil
}

// reset rewinds the pool for reuse at the start of a new frame. Each
// frame context owns its pool, and Frame calls reset only after that
// context's previous submission has completed, so no Deleter
// round-trip is required
// here (unlike grow, which replaces the live driver.Buffer object).
func (p *stagingPool) reset() {
	p.mu.Lock()
	p.used = 0
	p.mu.Unlock()
}

func (p *stagingPool) destroy() {
	p.dev.Deleter().Enqueue(DeleteBuffer, p.buf)
}
