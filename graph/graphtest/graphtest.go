// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package graphtest provides an in-memory driver.Driver implementation
// for exercising the graph package without a real GPU, grounded on
// driver/vk's split between the backend-agnostic driver.GPU contract
// and its Vulkan realization: this is the same contract realized by a
// software stand-in that records calls instead of issuing them.
package graphtest

import (
	"sync"

	"github.com/kestrelgfx/rengraph/driver"
	"github.com/kestrelgfx/rengraph/wsi"
)

// Name is the driver name graphtest registers under; graph.NewDevice
// selects it by passing this (or a substring of it) as the preferred
// backend.
const Name = "graphtest"

func init() {
	driver.Register(&fakeDriver{})
}

type fakeDriver struct {
	mu   sync.Mutex
	open bool
	gpu  *fakeGPU
}

func (d *fakeDriver) Name() string { return Name }

func (d *fakeDriver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return d.gpu, nil
	}
	d.gpu = &fakeGPU{}
	d.open = true
	return d.gpu, nil
}

func (d *fakeDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.gpu = nil
}

// fakeGPU implements driver.GPU, driver.Presenter and
// driver.FormatQuerier entirely in memory: every creation method
// succeeds and returns a trivial Destroyer; Commit sends nil to ch
// synchronously, since there is no real queue to wait on.
type fakeGPU struct{}

func (g *fakeGPU) Driver() driver.Driver { return nil }

func (g *fakeGPU) Commit(cb []driver.CmdBuffer, ch chan<- error) {
	if ch != nil {
		ch <- nil
	}
}

func (g *fakeGPU) NewCmdBuffer() (driver.CmdBuffer, error) {
	return &fakeCmdBuffer{}, nil
}

func (g *fakeGPU) NewRenderPass(att []driver.Attachment, sub []driver.Subpass) (driver.RenderPass, error) {
	return &fakeRenderPass{}, nil
}

func (g *fakeGPU) NewShaderCode(data []byte) (driver.ShaderCode, error) {
	return fakeDestroyer{}, nil
}

func (g *fakeGPU) NewDescHeap(ds []driver.Descriptor) (driver.DescHeap, error) {
	return &fakeDescHeap{}, nil
}

func (g *fakeGPU) NewDescTable(dh []driver.DescHeap) (driver.DescTable, error) {
	return fakeDestroyer{}, nil
}

func (g *fakeGPU) NewPipeline(state any) (driver.Pipeline, error) {
	return fakeDestroyer{}, nil
}

func (g *fakeGPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	return &fakeBuffer{data: make([]byte, size), visible: visible}, nil
}

func (g *fakeGPU) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	return &fakeImage{}, nil
}

func (g *fakeGPU) NewSampler(spln *driver.Sampling) (driver.Sampler, error) {
	return fakeDestroyer{}, nil
}

func (g *fakeGPU) Limits() driver.Limits {
	return driver.Limits{
		MaxImage1D: 8192, MaxImage2D: 8192, MaxImageCube: 8192, MaxImage3D: 2048,
		MaxLayers: 2048,
		MaxDescHeaps: 32, MaxDBuffer: 1 << 20, MaxDImage: 1 << 20,
		MaxDConstant: 1 << 20, MaxDTexture: 1 << 20, MaxDSampler: 1 << 20,
		MaxDBufferRange: 1 << 30, MaxDConstantRange: 1 << 16,
		MaxColorTargets: 8, MaxFBSize: [2]int{8192, 8192}, MaxFBLayers: 2048,
		MaxPointSize: 256, MaxViewports: 16,
		MaxVertexIn: 32, MaxFragmentIn: 32,
		MaxDispatch: [3]int{65535, 65535, 65535},
	}
}

// SupportsDepthAttachment always reports true, so graph.Device picks
// the first entry of whatever depth-format preference list it is
// given (implements driver.FormatQuerier).
func (g *fakeGPU) SupportsDepthAttachment(pf driver.PixelFmt) bool { return true }

// NewSwapchain implements driver.Presenter with a fixed-size, fixed-
// format in-memory swapchain (implements driver.Presenter).
func (g *fakeGPU) NewSwapchain(win wsi.Window, imageCount int) (driver.Swapchain, error) {
	if imageCount <= 0 {
		imageCount = 2
	}
	views := make([]driver.ImageView, imageCount)
	for i := range views {
		views[i] = fakeDestroyer{}
	}
	return &fakeSwapchain{win: win, views: views}, nil
}

type fakeDestroyer struct{}

func (fakeDestroyer) Destroy() {}

type fakeRenderPass struct{ fakeDestroyer }

func (*fakeRenderPass) NewFB(iv []driver.ImageView, width, height, layers int) (driver.Framebuf, error) {
	return fakeDestroyer{}, nil
}

type fakeImage struct{ fakeDestroyer }

func (*fakeImage) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	return fakeDestroyer{}, nil
}

type fakeBuffer struct {
	fakeDestroyer
	data    []byte
	visible bool
}

func (b *fakeBuffer) Visible() bool { return b.visible }
func (b *fakeBuffer) Bytes() []byte {
	if !b.visible {
		return nil
	}
	return b.data
}
func (b *fakeBuffer) Cap() int64 { return int64(len(b.data)) }

// fakeDescHeap records the copy count requested by New but otherwise
// discards every write, since no recorded Set call is ever read back
// by graph's own tests (the assertions are on CompiledGraph, Recorder
// and allocator state, not on a real descriptor table's contents).
type fakeDescHeap struct {
	fakeDestroyer
	count int
}

func (h *fakeDescHeap) New(n int) error {
	h.count = n
	return nil
}
func (h *fakeDescHeap) SetBuffer(cpy, nr, start int, buf []driver.Buffer, off, size []int64) {}
func (h *fakeDescHeap) SetImage(cpy, nr, start int, iv []driver.ImageView)                   {}
func (h *fakeDescHeap) SetSampler(cpy, nr, start int, splr []driver.Sampler)                 {}
func (h *fakeDescHeap) Count() int                                                           { return h.count }

type fakeSwapchain struct {
	fakeDestroyer
	win   wsi.Window
	views []driver.ImageView
	next  int
}

func (s *fakeSwapchain) Views() []driver.ImageView { return s.views }

func (s *fakeSwapchain) Next(cb driver.CmdBuffer) (int, error) {
	idx := s.next
	s.next = (s.next + 1) % len(s.views)
	return idx, nil
}

func (s *fakeSwapchain) Present(index int, cb driver.CmdBuffer) error { return nil }

func (s *fakeSwapchain) Recreate() error { return nil }

func (s *fakeSwapchain) Format() driver.PixelFmt { return driver.BGRA8un }

// fakeCmdBuffer accepts every driver.CmdBuffer call as a no-op; graph's
// own tests assert on CompiledGraph/Recorder state, not on a replayed
// command stream, so there is nothing useful to record here beyond
// Begin/End/Reset's call-sequencing contract.
type fakeCmdBuffer struct {
	fakeDestroyer
	began bool
}

func (c *fakeCmdBuffer) Begin() error { c.began = true; return nil }

func (c *fakeCmdBuffer) BeginPass(pass driver.RenderPass, fb driver.Framebuf, clear []driver.ClearValue) {
}
func (c *fakeCmdBuffer) NextSubpass() {}
func (c *fakeCmdBuffer) EndPass()     {}
func (c *fakeCmdBuffer) BeginWork(wait bool) {}
func (c *fakeCmdBuffer) EndWork()             {}
func (c *fakeCmdBuffer) BeginBlit(wait bool)  {}
func (c *fakeCmdBuffer) EndBlit()             {}
func (c *fakeCmdBuffer) SetPipeline(pl driver.Pipeline) {}
func (c *fakeCmdBuffer) SetViewport(vp []driver.Viewport) {}
func (c *fakeCmdBuffer) SetScissor(sciss []driver.Scissor) {}
func (c *fakeCmdBuffer) SetBlendColor(r, g, b, a float32) {}
func (c *fakeCmdBuffer) SetStencilRef(value uint32) {}
func (c *fakeCmdBuffer) SetVertexBuf(start int, buf []driver.Buffer, off []int64) {}
func (c *fakeCmdBuffer) SetIndexBuf(format driver.IndexFmt, buf driver.Buffer, off int64) {}
func (c *fakeCmdBuffer) SetDescTableGraph(table driver.DescTable, start int, heapCopy []int) {}
func (c *fakeCmdBuffer) SetDescTableComp(table driver.DescTable, start int, heapCopy []int) {}
func (c *fakeCmdBuffer) Draw(vertCount, instCount, baseVert, baseInst int) {}
func (c *fakeCmdBuffer) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {}
func (c *fakeCmdBuffer) Dispatch(grpCountX, grpCountY, grpCountZ int) {}
func (c *fakeCmdBuffer) CopyBuffer(param *driver.BufferCopy) {}
func (c *fakeCmdBuffer) CopyImage(param *driver.ImageCopy) {}
func (c *fakeCmdBuffer) CopyBufToImg(param *driver.BufImgCopy) {}
func (c *fakeCmdBuffer) CopyImgToBuf(param *driver.BufImgCopy) {}
func (c *fakeCmdBuffer) Fill(buf driver.Buffer, off int64, value byte, size int64) {}
func (c *fakeCmdBuffer) Barrier(b []driver.Barrier) {}
func (c *fakeCmdBuffer) Transition(t []driver.Transition) {}

func (c *fakeCmdBuffer) End() error {
	c.began = false
	return nil
}

func (c *fakeCmdBuffer) Reset() error {
	c.began = false
	return nil
}
