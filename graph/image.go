// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"errors"

	"github.com/kestrelgfx/rengraph/driver"
)

const imgPrefix = "graph: image: "

// ImageConfig describes the semantic attributes of an Image (spec.md
// §3): format, sampling parameters, usage, cube flag and mip/layer
// counts. Extent comes from the ImageSize passed at creation instead,
// since it is graph-resize-sensitive.
//
// Grounded on original_source's image/config.go ImageConfig, adapted
// from its many named constructors (cubemap/color2d_attachment/...)
// to a single struct plus small constructor helpers below, closer to
// the teacher's engine/texture.go TexParam idiom.
type ImageConfig struct {
	Format  driver.PixelFmt
	Sampler driver.Sampling
	Usage   driver.Usage
	Cube    bool
	Levels  int // mip levels; 0 means 1.
	Layers  int // array layers; 0 means 1 (6 for cube).
}

// Color2D returns an ImageConfig suitable for a 2D color attachment
// that is also shader-sampled, matching the defaults
// original_source's color2d_attachment() constructor uses.
func Color2D(format driver.PixelFmt) ImageConfig {
	return ImageConfig{
		Format: format,
		Usage:  driver.URenderTarget | driver.UShaderSample,
		Sampler: driver.Sampling{
			Min: driver.FLinear, Mag: driver.FLinear, Mipmap: driver.FNoMipmap,
			AddrU: driver.AClamp, AddrV: driver.AClamp, AddrW: driver.AClamp,
			MaxLOD: 0,
		},
		Levels: 1,
		Layers: 1,
	}
}

// DepthStencil returns an ImageConfig for a combined depth/stencil
// attachment, picking the device's negotiated format (spec.md §4.1,
// "Format negotiation").
func DepthStencil(dev *Device) ImageConfig {
	return ImageConfig{
		Format: supportedDepthStencilFormat(dev),
		Usage:  driver.URenderTarget,
		Sampler: driver.Sampling{
			Min: driver.FNearest, Mag: driver.FNearest, Mipmap: driver.FNoMipmap,
			AddrU: driver.AClamp, AddrV: driver.AClamp, AddrW: driver.AClamp,
		},
		Levels: 1,
		Layers: 1,
	}
}

// DepthOnly returns an ImageConfig for a depth-only attachment.
func DepthOnly(dev *Device) ImageConfig {
	cfg := DepthStencil(dev)
	cfg.Format = supportedDepthOnlyFormat(dev)
	return cfg
}

// StorageImage returns an ImageConfig for a compute read/write target
// (spec.md §8 scenario 3, "storage image").
func StorageImage(format driver.PixelFmt) ImageConfig {
	return ImageConfig{
		Format: format,
		Usage:  driver.UShaderRead | driver.UShaderWrite | driver.UShaderSample,
		Sampler: driver.Sampling{
			Min: driver.FNearest, Mag: driver.FNearest, Mipmap: driver.FNoMipmap,
			AddrU: driver.AClamp, AddrV: driver.AClamp, AddrW: driver.AClamp,
		},
		Levels: 1,
		Layers: 1,
	}
}

// Image wraps a driver.Image, the views built from it, and the
// per-mip layout currently tracked for barrier planning.
//
// Generalizes engine/texture.go's Texture: the teacher built one view
// per array layer (plus an all-layers view for arrayed textures);
// this type instead builds one view per mip level plus a single
// all-mips view, since the graph's compiler must be able to address
// any mip of a produced image as a render target or a sampled input
// (spec.md §3, §4.2 "both views must exist for every image because
// the graph may consume any mip of a produced image").
type Image struct {
	dev *Device

	img    driver.Image
	mips   []driver.ImageView // one per mip level
	allMip driver.ImageView   // whole-resource view

	cfg    ImageConfig
	w, h, d int
	size   ImageSize // zero value for non-graph-owned (externally sized) images

	layouts []driver.Layout // one per mip, for barrier planning
}

func newImgErr(reason string) error { return errors.New(imgPrefix + reason) }

// newImage allocates the driver.Image and its views for the given
// physical extent.
func newImage(dev *Device, cfg ImageConfig, w, h, d int, size ImageSize) (*Image, error) {
	if cfg.Levels < 1 {
		cfg.Levels = 1
	}
	layers := cfg.Layers
	if layers < 1 {
		layers = 1
	}
	if cfg.Cube && layers < 6 {
		layers = 6
	}
	switch {
	case w < 1 || h < 1:
		return nil, newImgErr("invalid size")
	case cfg.Levels > computeLevels(w, h, d):
		return nil, newImgErr("too many mip levels for size")
	}

	img, err := dev.gpu.NewImage(cfg.Format, driver.Dim3D{Width: w, Height: h, Depth: d}, layers, cfg.Levels, 1, cfg.Usage)
	if err != nil {
		return nil, err
	}

	viewType := driver.IView2D
	if cfg.Cube {
		viewType = driver.IViewCube
	} else if d > 1 {
		viewType = driver.IView3D
	}

	mips := make([]driver.ImageView, cfg.Levels)
	for i := range mips {
		v, err := img.NewView(viewType, 0, layers, i, 1)
		if err != nil {
			for j := 0; j < i; j++ {
				mips[j].Destroy()
			}
			img.Destroy()
			return nil, err
		}
		mips[i] = v
	}
	allMip, err := img.NewView(viewType, 0, layers, 0, cfg.Levels)
	if err != nil {
		for _, v := range mips {
			v.Destroy()
		}
		img.Destroy()
		return nil, err
	}

	layouts := make([]driver.Layout, cfg.Levels)
	for i := range layouts {
		layouts[i] = driver.LUndefined
	}

	return &Image{
		dev: dev, img: img, mips: mips, allMip: allMip,
		cfg: cfg, w: w, h: h, d: d, size: size, layouts: layouts,
	}, nil
}

// computeLevels returns the maximum useful mip chain length for a
// given extent (floor(log2(max(w,h,d))) + 1), matching
// engine/texture.go's ComputeLevels helper.
func computeLevels(w, h, d int) int {
	m := w
	if h > m {
		m = h
	}
	if d > m {
		m = d
	}
	n := 1
	for m > 1 {
		m >>= 1
		n++
	}
	return n
}

// View returns the view of a single mip level (spec.md §4.2 "images
// expose view(mip)").
func (img *Image) View(mip int) driver.ImageView {
	invariant(mip >= 0 && mip < len(img.mips), "mip %d out of range [0,%d)", mip, len(img.mips))
	return img.mips[mip]
}

// AllMips returns the whole-resource view (spec.md §4.2 "view_all()").
func (img *Image) AllMips() driver.ImageView { return img.allMip }

// Extent returns the image's current physical size.
func (img *Image) Extent() (w, h, d int) { return img.w, img.h, img.d }

// Levels returns the number of mip levels.
func (img *Image) Levels() int { return len(img.mips) }

// Layout returns the currently-tracked layout of the given mip.
func (img *Image) Layout(mip int) driver.Layout { return img.layouts[mip] }

// mipExtent returns the physical extent of the given mip level,
// halving (and flooring at 1) the base extent per level.
func (img *Image) mipExtent(mip int) (w, h, d int) {
	w, h, d = img.w>>mip, img.h>>mip, img.d>>mip
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if d < 1 {
		d = 1
	}
	return
}

// Upload stages data into mip level mip through a scratch allocation
// from pool and records a transfer-queue copy into cb (spec.md §4.2
// "device-local -> staging copy on transfer submit"), mirroring
// Buffer.UploadVia. cb must be between BeginBlit/EndBlit. The caller
// is responsible for submitting cb and keeping the staging allocation
// alive until that submission completes, which pool guarantees by
// routing its reclamation through the Deleter.
func (img *Image) Upload(cb driver.CmdBuffer, pool *stagingPool, mip int, data []byte) error {
	invariant(mip >= 0 && mip < len(img.mips), "mip %d out of range [0,%d)", mip, len(img.mips))
	stg, stgOff, err := pool.alloc(int64(len(data)))
	if err != nil {
		return err
	}
	copy(stg.Bytes()[stgOff:], data)

	w, h, d := img.mipExtent(mip)
	xfer := accessOf(ATransferWrite)
	cb.Transition([]driver.Transition{{
		Barrier: driver.Barrier{
			SyncBefore: driver.SNone, SyncAfter: xfer.stage,
			AccessBefore: driver.ANone, AccessAfter: xfer.access,
		},
		LayoutBefore: img.layouts[mip],
		LayoutAfter:  xfer.layout,
		IView:        img.mips[mip],
	}})
	cb.CopyBufToImg(&driver.BufImgCopy{
		Buf: stg, BufOff: stgOff,
		Img: img.img, Level: mip,
		Size: driver.Dim3D{Width: w, Height: h, Depth: d},
	})
	read := accessOf(AFragmentShaderRead)
	cb.Transition([]driver.Transition{{
		Barrier: driver.Barrier{
			SyncBefore: xfer.stage, SyncAfter: read.stage,
			AccessBefore: xfer.access, AccessAfter: read.access,
		},
		LayoutBefore: xfer.layout,
		LayoutAfter:  read.layout,
		IView:        img.mips[mip],
	}})
	img.layouts[mip] = read.layout
	return nil
}

// setLayout records the layout Recorder.ApplyImageBarrier has
// transitioned a mip into. The compiler's barrier planner does not
// read it; it derives layouts from access types.
func (img *Image) setLayout(mip int, l driver.Layout) { img.layouts[mip] = l }

// free destroys the underlying views and image immediately. Graph-
// owned images instead go through the Deleter (see enqueueFree);
// free is used directly only for objects with no in-flight GPU use,
// such as the bindless debug image created and torn down within a
// single Device lifetime boundary.
func (img *Image) free() {
	for _, v := range img.mips {
		v.Destroy()
	}
	img.allMip.Destroy()
	img.img.Destroy()
}

// enqueueFree schedules img's views and backing image for
// frame-delayed destruction (spec.md §4.3).
func (img *Image) enqueueFree() {
	del := img.dev.Deleter()
	for _, v := range img.mips {
		del.Enqueue(DeleteImageView, v)
	}
	del.Enqueue(DeleteImageView, img.allMip)
	del.Enqueue(DeleteImage, img.img)
}

// newDebugImage creates the 1x1 magenta texture used to fill unbound
// bindless slots in debug builds (spec.md §4.4).
func newDebugImage(dev *Device) (*Image, error) {
	cfg := ImageConfig{
		Format: driver.RGBA8un,
		Usage:  driver.UShaderSample | driver.UGeneric,
		Sampler: driver.Sampling{
			Min: driver.FNearest, Mag: driver.FNearest, Mipmap: driver.FNoMipmap,
			AddrU: driver.AWrap, AddrV: driver.AWrap, AddrW: driver.AWrap,
		},
		Levels: 1,
		Layers: 1,
	}
	img, err := newImage(dev, cfg, 1, 1, 1, ImageSize{})
	if err != nil {
		return nil, err
	}
	if err := uploadDebugTexel(dev, img); err != nil {
		img.free()
		return nil, err
	}
	return img, nil
}

// uploadDebugTexel writes the single magenta, full-alpha texel
// ({0xff, 0x00, 0xff, 0xff}) into the 1x1 debug image. This runs once
// at Device construction rather than during a regular Executor frame,
// so it builds and submits its own one-shot transfer command buffer
// and staging pool instead of going through the per-frame ones.
func uploadDebugTexel(dev *Device, img *Image) error {
	magenta := []byte{0xff, 0x00, 0xff, 0xff}
	pool, err := newStagingPool(dev, int64(len(magenta)))
	if err != nil {
		return err
	}
	defer pool.destroy()

	cb, err := dev.gpu.NewCmdBuffer()
	if err != nil {
		return err
	}
	defer cb.Destroy()

	if err := cb.Begin(); err != nil {
		return err
	}
	cb.BeginBlit(false)
	if err := img.Upload(cb, pool, 0, magenta); err != nil {
		return err
	}
	cb.EndBlit()
	if err := cb.End(); err != nil {
		return err
	}

	ch := make(chan error, 1)
	dev.gpu.Commit([]driver.CmdBuffer{cb}, ch)
	return <-ch
}
