// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"hash/fnv"

	"github.com/kestrelgfx/rengraph/driver"
)

// renderPassKey identifies a cached driver.RenderPass by the exact
// sequence of attachment descriptions and subpasses that produced it
// (spec.md §4.9 "render passes are cached on the attachment-format
// tuple").
type renderPassKey struct{ hash uint64 }

func hashAttachments(att []driver.Attachment, sub []driver.Subpass) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	put := func(v uint64) {
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	for _, a := range att {
		put(uint64(a.Format))
		put(uint64(a.Samples))
		put(uint64(a.Load[0]))
		put(uint64(a.Load[1]))
		put(uint64(a.Store[0]))
		put(uint64(a.Store[1]))
	}
	for _, s := range sub {
		for _, c := range s.Color {
			put(uint64(c))
		}
		put(uint64(s.DS))
		for _, m := range s.MSR {
			put(uint64(m))
		}
		put(boolU64(s.Wait))
	}
	return h.Sum64()
}

// framebufKey identifies a cached driver.Framebuf: the owning render
// pass plus the exact views bound to it.
type framebufKey struct {
	pass uint64
	hash uint64
}

func hashViews(views []driver.ImageView) uint64 {
	h := fnv.New64a()
	for _, v := range views {
		var buf [8]byte
		p := fnvPtr(v)
		for i := range buf {
			buf[i] = byte(p >> (8 * i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}

// RenderPassCache caches driver.RenderPass and driver.Framebuf objects
// keyed on their construction parameters, evicting on the same
// frame-windowed policy as PipelineCache (spec.md §4.9).
//
// Grounded on original_source's render-pass/framebuffer cache
// description layered on the generic CacheMap.
type RenderPassCache struct {
	dev *Device

	passes      *CacheMap[renderPassKey, driver.RenderPass]
	framebufs   *CacheMap[framebufKey, driver.Framebuf]
	passByIndex map[renderPassKey]driver.RenderPass
}

// NewRenderPassCache creates an empty cache using the given frame
// window (DefaultCacheWindow if window <= 0).
func NewRenderPassCache(dev *Device, window int) *RenderPassCache {
	if window <= 0 {
		window = DefaultCacheWindow
	}
	c := &RenderPassCache{dev: dev, passByIndex: make(map[renderPassKey]driver.RenderPass)}
	c.passes = NewCacheMap[renderPassKey, driver.RenderPass](window, func(k renderPassKey, p driver.RenderPass) {
		delete(c.passByIndex, k)
		dev.Deleter().Enqueue(DeleteRenderPass, p)
	})
	c.framebufs = NewCacheMap[framebufKey, driver.Framebuf](window, func(_ framebufKey, fb driver.Framebuf) {
		dev.Deleter().Enqueue(DeleteFramebuf, fb)
	})
	return c
}

// RenderPass returns (creating if necessary) the render pass for the
// given attachment/subpass description.
func (c *RenderPassCache) RenderPass(att []driver.Attachment, sub []driver.Subpass) (driver.RenderPass, error) {
	key := renderPassKey{hash: hashAttachments(att, sub)}
	pass, err := c.passes.GetOrCreate(key, func() (driver.RenderPass, error) {
		return c.dev.gpu.NewRenderPass(att, sub)
	})
	if err == nil {
		c.passByIndex[key] = pass
	}
	return pass, err
}

// Framebuf returns (creating if necessary) the framebuffer for pass
// bound to views, sized width x height x layers.
func (c *RenderPassCache) Framebuf(pass driver.RenderPass, views []driver.ImageView, width, height, layers int) (driver.Framebuf, error) {
	key := framebufKey{pass: fnvPtr(pass), hash: hashViews(views)}
	return c.framebufs.GetOrCreate(key, func() (driver.Framebuf, error) {
		return pass.NewFB(views, width, height, layers)
	})
}

// NewFrame advances both caches' recency windows.
func (c *RenderPassCache) NewFrame() {
	c.passes.NewFrame()
	c.framebufs.NewFrame()
}
