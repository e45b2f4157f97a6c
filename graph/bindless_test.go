// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelgfx/rengraph/driver"
)

func newTestImageView(t *testing.T, dev *Device) driver.ImageView {
	t.Helper()
	img, err := dev.GPU().NewImage(driver.RGBA8un, driver.Dim3D{Width: 4, Height: 4, Depth: 1}, 1, 1, 1, driver.UShaderSample)
	require.NoError(t, err)
	t.Cleanup(img.Destroy)
	view, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
	require.NoError(t, err)
	return view
}

func TestDevice_BindlessIsWired(t *testing.T) {
	dev := newTestDevice(t)
	require.NotNil(t, dev.Bindless(), "NewDevice must construct a Bindless set for every opened device")
}

func TestBindless_AllocIndicesAreUniqueAndNonzero(t *testing.T) {
	dev := newTestDevice(t)
	b := dev.Bindless()

	seen := map[BindlessIndex]bool{}
	for i := 0; i < 8; i++ {
		idx := b.AllocImage(newTestImageView(t, dev))
		assert.NotZero(t, idx, "index 0 is reserved and must never be handed out")
		assert.False(t, seen[idx], "every allocation must get a distinct index")
		seen[idx] = true
	}
}

func TestBindless_FreeRecyclesIndexAfterDeleteDelay(t *testing.T) {
	dev := newTestDevice(t)
	b := dev.Bindless()

	idx := b.AllocImage(newTestImageView(t, dev))
	b.FreeImage(idx)

	for i := 0; i < DeleteDelay; i++ {
		dev.Deleter().NewFrame()
	}

	next := b.AllocImage(newTestImageView(t, dev))
	assert.Equal(t, idx, next, "the freed index must be recycled by the next allocation")
}

func TestBindless_StorageAndBufferArraysAreIndependent(t *testing.T) {
	dev := newTestDevice(t)
	b := dev.Bindless()

	imgIdx := b.AllocImage(newTestImageView(t, dev))
	storageIdx := b.AllocStorageImage(newTestImageView(t, dev))
	assert.Equal(t, imgIdx, storageIdx, "each bindless array has its own allocator starting back at 1")
}

func TestBindless_DebugModeUploadsMagentaTexture(t *testing.T) {
	dev, err := NewDevice("graphtest", DeviceOptions{Debug: true})
	require.NoError(t, err)
	t.Cleanup(dev.Close)

	b := dev.Bindless()
	require.NotNil(t, b.debugImage, "debug-mode Bindless must create the 1x1 magenta debug image")
	assert.Equal(t, driver.LShaderRead, b.debugImage.Layout(0),
		"debug texture must have been uploaded and transitioned to LShaderRead, not left at its created-but-never-written layout")
}

func TestDevice_NonDebugHasNoDebugImage(t *testing.T) {
	dev := newTestDevice(t)
	assert.Nil(t, dev.Bindless().debugImage, "a non-debug device must not pay for the debug texture")
}
