// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"errors"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/kestrelgfx/rengraph/driver"
)

const devPrefix = "graph: device: "

var errNoDriver = errors.New(devPrefix + "no matching driver found")

// DeviceOptions configures NewDevice. The zero value is valid and
// selects the first registered driver with a default logger.
type DeviceOptions struct {
	// Logger receives diagnostic messages (debug-messenger routing,
	// swapchain recreation, deleter drains). Defaults to log.Default.
	Logger *log.Logger

	// Debug enables the bindless 1x1 magenta substitution described
	// in spec.md §4.4 and extra validation panics in the recorder.
	Debug bool
}

// Device owns the driver.Driver/driver.GPU pair, the sampler cache
// and the Deleter, and is held by shared reference from every other
// graph component (spec.md §9 "Global mutable state" design note).
// It replaces the lazy statics of engine/internal/ctxt: instead of
// package-level drv/gpu/limits variables, every consumer holds a
// *Device, so teardown is deterministic and multiple devices can
// coexist in the same process (e.g. in tests).
type Device struct {
	drv    driver.Driver
	gpu    driver.GPU
	limits driver.Limits

	log   *log.Logger
	debug bool

	splrMu    sync.Mutex
	samplers  map[samplerKey]driver.Sampler

	deleter  *Deleter
	bindless *Bindless
}

// NewDevice scans driver.Drivers() for one whose name contains
// preferredBackend (matching engine/init.go's loadDriver; the empty
// string matches any driver) and opens it.
func NewDevice(preferredBackend string, opts DeviceOptions) (*Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	d := &Device{
		log:      logger,
		debug:    opts.Debug,
		samplers: make(map[samplerKey]driver.Sampler),
	}
	drivers := driver.Drivers()
	err := errNoDriver
	for i := range drivers {
		if !strings.Contains(drivers[i].Name(), preferredBackend) {
			continue
		}
		gpu, e := drivers[i].Open()
		if e != nil {
			err = e
			continue
		}
		d.drv = drivers[i]
		d.gpu = gpu
		d.limits = gpu.Limits()
		d.deleter = newDeleter(d)
		bindless, e := newBindless(d, driver.SVertex|driver.SFragment|driver.SCompute)
		if e != nil {
			drivers[i].Close()
			d.gpu = nil
			return nil, e
		}
		d.bindless = bindless
		d.log.Printf(devPrefix+"opened driver %q", drivers[i].Name())
		return d, nil
	}
	return nil, err
}

// GPU returns the underlying driver.GPU.
func (d *Device) GPU() driver.GPU { return d.gpu }

// Limits returns the implementation limits of the underlying GPU.
func (d *Device) Limits() *driver.Limits { return &d.limits }

// Logger returns the device's diagnostic logger.
func (d *Device) Logger() *log.Logger { return d.log }

// Debug reports whether the device was opened with DeviceOptions.Debug.
func (d *Device) Debug() bool { return d.debug }

// Deleter returns the device's frame-delayed destruction queue (C3).
func (d *Device) Deleter() *Deleter { return d.deleter }

// Bindless returns the device's single bindless descriptor set (C4),
// bound by every Recorder scope at BindlessSetIndex.
func (d *Device) Bindless() *Bindless { return d.bindless }

// Close destroys every still-pending deletion at once, without
// waiting out DeleteDelay (see Deleter.drainAll), then releases the
// bindless set and cached samplers and closes the underlying driver.
func (d *Device) Close() {
	if d == nil || d.gpu == nil {
		return
	}
	d.deleter.drainAll()
	if d.bindless != nil {
		d.bindless.destroy()
		d.bindless = nil
	}
	d.splrMu.Lock()
	for _, s := range d.samplers {
		s.Destroy()
	}
	d.samplers = nil
	d.splrMu.Unlock()
	d.drv.Close()
	d.gpu = nil
}

// samplerKey is driver.Sampling made hashable/comparable by encoding
// its float fields bit-exact (spec.md §4.1: "sampler cache keyed by
// the full sampler create-info, floats hashed bit-exact"). Grounded
// on original_source's image/sampler.rs SamplerCreateInfo, which
// implements a manual Hash via to_bits() on every float field.
type samplerKey struct {
	min, mag, mip driver.Filter
	addrU, addrV, addrW driver.AddrMode
	maxAniso      int
	cmp           driver.CmpFunc
	minLOD, maxLOD uint32 // math.Float32bits(Sampling.{Min,Max}LOD)
}

func keyOfSampling(s *driver.Sampling) samplerKey {
	return samplerKey{
		min: s.Min, mag: s.Mag, mip: s.Mipmap,
		addrU: s.AddrU, addrV: s.AddrV, addrW: s.AddrW,
		maxAniso: s.MaxAniso,
		cmp:      s.Cmp,
		minLOD:   math.Float32bits(s.MinLOD),
		maxLOD:   math.Float32bits(s.MaxLOD),
	}
}

// supportedDepthStencilFormat picks the first format in
// driver.DepthStencilPreference that the GPU reports as usable for an
// optimal-tiling depth/stencil attachment (spec.md §4.1 "Format
// negotiation"). If the GPU does not implement driver.FormatQuerier,
// it falls back to the first entry in the preference list.
func supportedDepthStencilFormat(dev *Device) driver.PixelFmt {
	return pickDepthFormat(dev, driver.DepthStencilPreference)
}

// supportedDepthOnlyFormat is the depth-only analogue of
// supportedDepthStencilFormat.
func supportedDepthOnlyFormat(dev *Device) driver.PixelFmt {
	return pickDepthFormat(dev, driver.DepthOnlyPreference)
}

func pickDepthFormat(dev *Device, pref []driver.PixelFmt) driver.PixelFmt {
	q, ok := dev.gpu.(driver.FormatQuerier)
	if !ok {
		return pref[0]
	}
	for _, pf := range pref {
		if q.SupportsDepthAttachment(pf) {
			return pf
		}
	}
	return pref[len(pref)-1]
}

// Sampler returns a driver.Sampler for the given state, creating and
// caching one if this is the first request for that exact state
// (spec.md §4.1). The cache is shared and internally synchronized
// (spec.md §5 "Shared-resource policy").
func (d *Device) Sampler(s *driver.Sampling) (driver.Sampler, error) {
	key := keyOfSampling(s)
	d.splrMu.Lock()
	defer d.splrMu.Unlock()
	if splr, ok := d.samplers[key]; ok {
		return splr, nil
	}
	splr, err := d.gpu.NewSampler(s)
	if err != nil {
		return nil, err
	}
	d.samplers[key] = splr
	return splr, nil
}
