// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelgfx/rengraph/driver"
)

// spirvString encodes a SPIR-V literal string: the bytes of s, a NUL
// terminator, padded with zero bytes to a word boundary (SPIR-V spec
// §2.2.1).
func spirvString(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return words
}

func spirvInstr(opcode uint32, operands ...uint32) []uint32 {
	words := make([]uint32, 0, len(operands)+1)
	words = append(words, (uint32(len(operands)+1)<<16)|opcode)
	words = append(words, operands...)
	return words
}

// buildTestModule assembles a minimal but structurally valid SPIR-V
// vertex shader: one Location-decorated input, one descriptor-set/
// binding-decorated uniform block, and one push-constant block, enough
// to exercise every branch of Reflect's OpVariable classification.
func buildTestModule(t *testing.T) []byte {
	t.Helper()

	const (
		idMain  = 1
		idInPos = 2
		idUBO   = 3
		idPC    = 4

		ptrInput = 5
		ptrUBO   = 6
		ptrPC    = 7

		typeFloat  = 100
		typeUBO    = 200
		typePC     = 300
	)

	var ops []uint32
	ops = append(ops, emVertex, idMain)
	ops = append(ops, spirvString("main")...)
	ops = append(ops, idInPos, idUBO, idPC)

	var words []uint32
	words = append(words, spirvInstr(opEntryPoint, ops...)...)
	words = append(words, spirvInstr(opName, append([]uint32{idMain}, spirvString("main")...)...)...)
	words = append(words, spirvInstr(opName, append([]uint32{idInPos}, spirvString("inPos")...)...)...)
	words = append(words, spirvInstr(opDecorate, idInPos, decorationLocation, 0)...)
	words = append(words, spirvInstr(opDecorate, idUBO, decorationDescriptorSet, 0)...)
	words = append(words, spirvInstr(opDecorate, idUBO, decorationBinding, 2)...)
	words = append(words, spirvInstr(opMemberDecorate, typeUBO, 0, decorationOffset, 0)...)
	words = append(words, spirvInstr(opMemberDecorate, typeUBO, 1, decorationOffset, 16)...)
	words = append(words, spirvInstr(opMemberDecorate, typePC, 0, decorationOffset, 0)...)
	words = append(words, spirvInstr(opMemberDecorate, typePC, 1, decorationOffset, 64)...)
	words = append(words, spirvInstr(opTypeStruct, typeUBO, 101, 102)...)
	words = append(words, spirvInstr(opTypeStruct, typePC, 103, 104)...)
	words = append(words, spirvInstr(opTypePointer, ptrInput, scInput, typeFloat)...)
	words = append(words, spirvInstr(opTypePointer, ptrUBO, scUniform, typeUBO)...)
	words = append(words, spirvInstr(opTypePointer, ptrPC, scPushConstant, typePC)...)
	words = append(words, spirvInstr(opVariable, ptrInput, idInPos, scInput)...)
	words = append(words, spirvInstr(opVariable, ptrUBO, idUBO, scUniform)...)
	words = append(words, spirvInstr(opVariable, ptrPC, idPC, scPushConstant)...)

	header := []uint32{spirvMagicLE, 0x00010000, 0, 500, 0}
	all := append(header, words...)

	buf := make([]byte, len(all)*4)
	for i, w := range all {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func TestReflect_VertexModule(t *testing.T) {
	info, err := Reflect(buildTestModule(t))
	require.NoError(t, err)

	assert.Equal(t, driver.SVertex, info.Stage)
	assert.Equal(t, "main", info.EntryPoint)

	require.Len(t, info.VertexInputs, 1)
	assert.Equal(t, "inPos", info.VertexInputs[0].Name)
	assert.Equal(t, 0, info.VertexInputs[0].Location)

	require.Len(t, info.Sets[0], 1)
	assert.Equal(t, 2, info.Sets[0][0].Nr)
	assert.Equal(t, driver.SVertex, info.Sets[0][0].Stages)

	require.Len(t, info.PushConstants, 1)
	assert.Equal(t, 80, info.PushConstants[0].Size)
	assert.Equal(t, driver.SVertex, info.PushConstants[0].Stages)
}

func TestReflect_BadMagic(t *testing.T) {
	buf := make([]byte, 20)
	_, err := Reflect(buf)
	assert.Error(t, err)
}

func TestReflect_Truncated(t *testing.T) {
	_, err := Reflect([]byte{1, 2, 3})
	assert.Error(t, err)
}
