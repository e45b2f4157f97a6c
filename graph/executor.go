// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"errors"

	"github.com/kestrelgfx/rengraph/driver"
	"github.com/kestrelgfx/rengraph/wsi"
)

const execPrefix = "graph: executor: "

func newExecErr(reason string) error { return errors.New(execPrefix + reason) }

// ExecutorOptions configures NewExecutor.
type ExecutorOptions struct {
	// Window, if non-nil, makes this a presenting Executor: it opens a
	// swapchain and the graph's present-flagged pass targets it.
	Window wsi.Window
	// ImageCount requests a swapchain image count; 0 requests
	// FramesInFlight+1. The request is passed to the driver as is (the
	// vk driver clamps it to the surface's supported range); it is not
	// derived from the surface's minimum image count.
	ImageCount int
	// CacheWindow sizes the pipeline/render-pass CacheMaps; 0 uses
	// DefaultCacheWindow.
	CacheWindow int
}

// frameContext is the per-in-flight-frame bundle the Executor rotates
// through (spec.md §4.10 "frame context"). Unlike a classic Vulkan
// renderer's explicit fence/semaphore trio, synchronization here rides
// on driver.GPU.Commit's completion channel, so a frameContext is just
// a command buffer plus its own push-constant scratch buffer, its
// staging pool, and the channel its last submission reports completion
// on.
type frameContext struct {
	cb      driver.CmdBuffer
	pushBuf *Buffer
	pool    *stagingPool
	done    chan error
	pending bool // true from Commit until this slot's completion is drained
}

// Executor owns the frame-context ring, the pipeline/render-pass/
// framebuffer caches, and (if presenting) the swapchain (spec.md
// §4.10; §5 "Descriptor and pipeline caches: owned by the Executor").
//
// Grounded on engine/renderer.go's Onscreen/Offscreen [NFrame]
// command-buffer ring and per-frame work-item channel, generalized
// from that file's fixed single-pass draw loop into the compiled
// render graph's multi-pass walk with planned barriers.
type Executor struct {
	dev *Device

	graph        *CompiledGraph
	pipelines    *PipelineCache
	renderPasses *RenderPassCache

	swapchain driver.Swapchain
	win       wsi.Window

	frames        PerFrame[*frameContext]
	framebufCache map[frameAttachKey]driver.Framebuf

	pendingUploads []func(driver.CmdBuffer, *stagingPool) error
}

type frameAttachKey struct {
	pass  int
	image int // swapchain image index, or -1 for non-presenting framebuffers
}

// NewExecutor creates an Executor for graph. If opts.Window is set,
// a swapchain sized to the graph's current dimensions is created and
// used to satisfy the graph's present-flagged pass.
func NewExecutor(dev *Device, g *CompiledGraph, opts ExecutorOptions) (*Executor, error) {
	window := opts.CacheWindow
	e := &Executor{
		dev: dev, graph: g,
		pipelines:     NewPipelineCache(dev, window),
		renderPasses:  NewRenderPassCache(dev, window),
		win:           opts.Window,
		framebufCache: make(map[frameAttachKey]driver.Framebuf),
	}

	if opts.Window != nil {
		presenter, ok := dev.GPU().(driver.Presenter)
		if !ok {
			return nil, newExecErr("GPU does not implement Presenter")
		}
		imageCount := opts.ImageCount
		if imageCount == 0 {
			imageCount = FramesInFlight + 1
		}
		sc, err := presenter.NewSwapchain(opts.Window, imageCount)
		if err != nil {
			return nil, err
		}
		e.swapchain = sc
	}

	e.frames = NewPerFrame(func(int) *frameContext {
		cb, err := dev.GPU().NewCmdBuffer()
		if err != nil {
			panic(newExecErr("cmd buffer creation failed: " + err.Error()))
		}
		pushBuf, err := newBuffer(dev, PushConstantSize, true, driver.UShaderConst)
		if err != nil {
			panic(newExecErr("push-constant buffer creation failed: " + err.Error()))
		}
		pool, err := newStagingPool(dev, 0)
		if err != nil {
			panic(newExecErr("staging pool creation failed: " + err.Error()))
		}
		return &frameContext{cb: cb, pushBuf: pushBuf, pool: pool, done: make(chan error, 1)}
	})

	return e, nil
}

// Frame runs one pass through the frame-context ring (spec.md §4.10
// "One frame"). args is threaded unchanged to every pass's record
// callback (spec.md §6 "Record-callback signature").
func (e *Executor) Frame(args any) error {
	fc := e.frames.Get()

	if fc.pending {
		err := <-fc.done
		fc.pending = false
		if err != nil {
			return err
		}
	}

	e.dev.Deleter().NewFrame()
	e.pipelines.NewFrame()
	e.renderPasses.NewFrame()
	fc.pool.reset()

	var imageIndex int = -1
	if e.swapchain != nil {
		idx, err := e.swapchain.Next(fc.cb)
		if err != nil {
			if errors.Is(err, driver.ErrSwapchain) {
				return e.recreateSwapchain()
			}
			return err
		}
		imageIndex = idx
	}

	if err := fc.cb.Begin(); err != nil {
		return err
	}

	if len(e.pendingUploads) > 0 {
		fc.cb.BeginBlit(false)
		for _, up := range e.pendingUploads {
			if err := up(fc.cb, fc.pool); err != nil {
				fc.cb.EndBlit()
				fc.cb.Reset()
				return err
			}
		}
		fc.cb.EndBlit()
		e.pendingUploads = e.pendingUploads[:0]
	}

	rec := NewRecorder(e.dev, fc.cb, e.pipelines, fc.pushBuf)
	res := e.graph.Resources()

	for _, pi := range e.graph.Order() {
		pass := e.graph.Pass(pi)
		if err := e.recordPass(rec, pass, pi, res, imageIndex, args); err != nil {
			fc.cb.Reset()
			return err
		}
	}

	if err := fc.cb.End(); err != nil {
		return err
	}

	e.dev.GPU().Commit([]driver.CmdBuffer{fc.cb}, fc.done)
	fc.pending = true

	if e.swapchain != nil {
		if err := e.swapchain.Present(imageIndex, fc.cb); err != nil {
			if errors.Is(err, driver.ErrSwapchain) {
				e.frames.Advance()
				return e.recreateSwapchain()
			}
			return err
		}
	}

	e.frames.Advance()
	return nil
}

// UploadBuffer queues data to be staged into buf at offset through the
// active frame context's staging pool, as a transfer-queue copy
// recorded at the start of the next Frame call (spec.md §4.2
// "device-local -> staging copy on transfer submit"). Use this for
// device-local buffers; host-visible ones can instead call
// Buffer.Upload directly. data is copied immediately, so the caller's
// slice may be reused right after this call returns.
func (e *Executor) UploadBuffer(buf *Buffer, data []byte, offset int64) {
	d := append([]byte(nil), data...)
	e.pendingUploads = append(e.pendingUploads, func(cb driver.CmdBuffer, pool *stagingPool) error {
		return buf.UploadVia(cb, pool, d, offset)
	})
}

// UploadImage queues data to be staged into img's mip level mip,
// following the same deferred-to-next-Frame policy as UploadBuffer.
func (e *Executor) UploadImage(img *Image, mip int, data []byte) {
	d := append([]byte(nil), data...)
	e.pendingUploads = append(e.pendingUploads, func(cb driver.CmdBuffer, pool *stagingPool) error {
		return img.Upload(cb, pool, mip, d)
	})
}

// recordPass emits the pass's planned barriers, opens its scope,
// invokes its record callback, and closes the scope.
func (e *Executor) recordPass(rec *Recorder, pass *Pass, pi int, res *Resources, imageIndex int, args any) error {
	for _, b := range e.graph.Barriers(pi) {
		if b.isImage {
			rec.cb.Transition([]driver.Transition{b.transition})
		} else {
			rec.cb.Barrier([]driver.Barrier{b.barrier})
		}
	}

	switch pass.Kind {
	case PassCompute:
		scope := beginComputeScope(rec, false)
		if pass.RecordCompute != nil {
			pass.RecordCompute(scope, res, RecordInfo{}, args)
		}
		scope.End()
	case PassRender:
		plan, _ := e.graph.Attachments(pi)
		rp, fb, w, h, err := e.resolveRenderTarget(pass, pi, plan, res, imageIndex)
		if err != nil {
			return err
		}
		scope := beginRenderScope(rec, rp, fb, 0, nil)
		if pass.RecordRender != nil {
			pass.RecordRender(scope, res, RecordInfo{Width: w, Height: h}, args)
		}
		scope.End()
	}
	return nil
}

// resolveRenderTarget builds (or fetches from cache) the
// driver.RenderPass and driver.Framebuf a render pass needs, using the
// swapchain's current image view in place of a DrawImage handle whose
// AttachmentConfig targets presentation.
func (e *Executor) resolveRenderTarget(pass *Pass, pi int, plan *attachmentPlan, res *Resources, imageIndex int) (driver.RenderPass, driver.Framebuf, int, int, error) {
	var atts []driver.Attachment
	var views []driver.ImageView
	w, h := 0, 0

	if plan != nil {
		for i, h2 := range plan.colorHandles {
			cfg := plan.colorConfigs[i]
			var view driver.ImageView
			var format driver.PixelFmt
			if pass.Present && e.swapchain != nil && i == len(plan.colorHandles)-1 {
				view = e.swapchain.Views()[imageIndex]
				format = e.swapchain.Format()
			} else {
				img := res.Image(h2)
				view = img.AllMips()
				format = img.cfg.Format
				w, h, _ = img.Extent()
			}
			atts = append(atts, driver.Attachment{
				Format: format, Samples: 1,
				Load:  [2]driver.LoadOp{cfg.ColorLoad, driver.LDontCare},
				Store: [2]driver.StoreOp{cfg.ColorStore, driver.SDontCare},
			})
			views = append(views, view)
		}
		if plan.hasDepth {
			img := res.Image(plan.depthHandle)
			atts = append(atts, driver.Attachment{
				Format: img.cfg.Format, Samples: 1,
				Load:  [2]driver.LoadOp{plan.depthConfig.ColorLoad, plan.depthConfig.StencilLoad},
				Store: [2]driver.StoreOp{plan.depthConfig.ColorStore, plan.depthConfig.StencilStore},
			})
			views = append(views, img.AllMips())
		}
	}

	if w == 0 || h == 0 {
		w, h, _ = pass.RenderArea.resolve(e.graph.width, e.graph.height)
	}

	dsIndex := -1
	if plan != nil && plan.hasDepth {
		dsIndex = len(plan.colorHandles)
	}
	var colorIdx []int
	for i := range views {
		if i == dsIndex {
			continue
		}
		colorIdx = append(colorIdx, i)
	}
	sub := []driver.Subpass{{Color: colorIdx, DS: dsIndex}}

	rp, err := e.renderPasses.RenderPass(atts, sub)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	key := frameAttachKey{pass: pi, image: imageIndex}
	fb, ok := e.framebufCache[key]
	if !ok {
		fb, err = e.renderPasses.Framebuf(rp, views, w, h, 1)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		e.framebufCache[key] = fb
	}
	return rp, fb, w, h, nil
}

// recreateSwapchain implements spec.md §4.10's "Swapchain recreate":
// wait-idle (approximated here by draining in-flight frames via their
// done channels), recreate the swapchain, reallocate relative-size
// graph images, and drop every cached framebuffer so they are rebuilt
// lazily against the new views.
func (e *Executor) recreateSwapchain() error {
	e.frames.Each(func(_ int, fc *frameContext) {
		if fc.pending {
			<-fc.done
			fc.pending = false
		}
	})
	if err := e.swapchain.Recreate(); err != nil {
		return err
	}
	views := e.swapchain.Views()
	if len(views) == 0 {
		return newExecErr("recreated swapchain has no views")
	}
	w, h := e.win.Width(), e.win.Height()
	if err := e.graph.Resize(w, h); err != nil {
		return err
	}
	e.framebufCache = make(map[frameAttachKey]driver.Framebuf)
	return nil
}

// Close releases the Executor's frame contexts, caches, and swapchain.
func (e *Executor) Close() {
	e.frames.Each(func(_ int, fc *frameContext) {
		if fc.pending {
			<-fc.done
			fc.pending = false
		}
		e.dev.Deleter().Enqueue(DeleteBuffer, fc.pushBuf.buf)
		fc.pool.destroy()
		fc.cb.Destroy()
	})
	del := e.dev.Deleter()
	e.pipelines.graphics.Range(func(_ graphPipeKey, p driver.Pipeline) bool { del.Enqueue(DeletePipeline, p); return true })
	e.pipelines.compute.Range(func(_ compPipeKey, p driver.Pipeline) bool { del.Enqueue(DeletePipeline, p); return true })
	e.renderPasses.framebufs.Range(func(_ framebufKey, fb driver.Framebuf) bool { del.Enqueue(DeleteFramebuf, fb); return true })
	e.renderPasses.passes.Range(func(_ renderPassKey, p driver.RenderPass) bool { del.Enqueue(DeleteRenderPass, p); return true })
	if e.swapchain != nil {
		e.dev.Deleter().Enqueue(DeleteSwapchain, e.swapchain)
	}
}
