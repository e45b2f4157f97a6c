// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"encoding/binary"
	"errors"

	"github.com/kestrelgfx/rengraph/driver"
)

// SPIR-V reflection (spec.md §4.11, C11): a minimal op-stream scan over
// the module's instruction list, extracting just enough to build
// descriptor set layouts, push-constant ranges and a vertex input
// variable list. No SPIR-V reflection library appears anywhere in the
// retrieved pack (see DESIGN.md), so this is hand-rolled; the
// companion SPIR-V *producer* (internal/shaderc, wrapping
// github.com/gogpu/naga) is a real third-party dependency.

const reflPrefix = "graph: reflect: "

func newReflErr(reason string) error { return errors.New(reflPrefix + reason) }

const spirvMagicLE = 0x07230203
const spirvMagicBE = 0x03022307

// SPIR-V opcodes this reflector understands; everything else is
// skipped via its declared word count.
const (
	opName           = 5
	opMemberName     = 6
	opEntryPoint     = 15
	opTypeImage      = 25
	opTypeStruct     = 30
	opTypePointer    = 32
	opVariable       = 59
	opDecorate       = 71
	opMemberDecorate = 72
)

// OpTypeImage's Sampled operand (SPIR-V spec §3.21 "Image Operands"
// table for OpTypeImage): 1 means the image is used with a sampler
// (a plain sampled texture), 2 means it is accessed directly as a
// storage image (read/write, no sampler).
const imageSampledStorage = 2

// Decoration numbers this reflector reads (SPIR-V spec §3.20 "Decoration").
const (
	decorationLocation       = 30
	decorationBinding        = 33
	decorationDescriptorSet  = 34
	decorationOffset         = 35
)

// StorageClass values this reflector distinguishes (SPIR-V spec §3.7).
const (
	scUniformConstant = 0
	scInput           = 1
	scUniform         = 2
	scPushConstant    = 9
	scStorageBuffer   = 12
)

// Execution models this reflector maps to driver.Stage (SPIR-V spec §3.6).
const (
	emVertex   = 0
	emFragment = 4
	emGLCompute = 5
)

// PushConstantRange describes one push-constant byte range a shader
// module declares (spec.md §4.11 "push-constant ranges (stage flags +
// offset + size)").
type PushConstantRange struct {
	Stages driver.Stage
	Offset int
	Size   int
}

// VertexInputVar names one vertex-shader input variable, for
// compatibility checking against a pipeline's driver.VertexIn list
// (spec.md §4.11 "vertex input variable list").
type VertexInputVar struct {
	Name     string
	Location int
}

// ReflectInfo is the full output of Reflect: per-set descriptor
// layouts, push-constant ranges and (for vertex stages) the entry
// point's input variables (spec.md §4.11).
type ReflectInfo struct {
	Sets          [MaxDescriptorSets][]driver.Descriptor
	PushConstants []PushConstantRange
	VertexInputs  []VertexInputVar
	EntryPoint    string
	Stage         driver.Stage
}

// decoder holds the tables accumulated from one decoration/name/type
// sweep of the module, consulted while resolving OpVariable entries.
type decoder struct {
	words []uint32

	names       map[uint32]string
	decorations map[uint32]map[uint32]uint32 // target -> decoration -> literal

	typeStructMembers map[uint32][]uint32                     // struct type id -> member type ids
	memberDecorations map[uint32]map[uint32]map[uint32]uint32 // struct id -> member index -> decoration -> literal
	typePointers      map[uint32]uint32                       // pointer type id -> pointee type id
	storageClasses    map[uint32]uint32                       // pointer type id -> storage class
	imageSampled      map[uint32]uint32                       // OpTypeImage result id -> Sampled operand

	entryStage driver.Stage
	entryName  string
}

// Reflect scans a SPIR-V module's instruction stream and produces a
// ReflectInfo (spec.md §4.11). It performs enough structural validation
// to reject a truncated or non-SPIR-V buffer, but does not otherwise
// validate the module; a well-formed-looking but semantically invalid
// module may reflect incorrectly rather than erroring.
func Reflect(spirv []byte) (*ReflectInfo, error) {
	words, err := decodeWords(spirv)
	if err != nil {
		return nil, err
	}
	if len(words) < 5 {
		return nil, newReflErr("module shorter than header")
	}

	d := &decoder{
		words:             words,
		names:             map[uint32]string{},
		decorations:       map[uint32]map[uint32]uint32{},
		typeStructMembers: map[uint32][]uint32{},
		memberDecorations: map[uint32]map[uint32]map[uint32]uint32{},
		typePointers:      map[uint32]uint32{},
		storageClasses:    map[uint32]uint32{},
		imageSampled:      map[uint32]uint32{},
	}

	varIDs, varType, varStorage, err := d.scan()
	if err != nil {
		return nil, err
	}

	info := &ReflectInfo{Stage: d.entryStage, EntryPoint: d.entryName}

	for _, id := range varIDs {
		switch varStorage[id] {
		case scUniform, scUniformConstant, scStorageBuffer:
			dset, hasSet := d.decorations[id][decorationDescriptorSet]
			binding, hasBinding := d.decorations[id][decorationBinding]
			if !hasSet || !hasBinding || int(dset) >= MaxDescriptorSets {
				continue
			}
			info.Sets[dset] = append(info.Sets[dset], driver.Descriptor{
				Type:   d.descriptorType(varType[id], varStorage[id]),
				Stages: d.entryStage,
				Nr:     int(binding),
				Len:    1,
			})
		case scPushConstant:
			pointee := d.typePointers[varType[id]]
			info.PushConstants = append(info.PushConstants, PushConstantRange{
				Stages: d.entryStage,
				Offset: 0,
				Size:   d.structSize(pointee),
			})
		case scInput:
			if d.entryStage != driver.SVertex {
				continue
			}
			loc, hasLoc := d.decorations[id][decorationLocation]
			if !hasLoc {
				continue
			}
			info.VertexInputs = append(info.VertexInputs, VertexInputVar{
				Name:     d.names[id],
				Location: int(loc),
			})
		}
	}

	return info, nil
}

// decodeWords validates the SPIR-V magic/header and returns the
// module's words as native-endian uint32s (the format stores a fixed
// byte order per file, self-identified by which byte order the magic
// number decodes correctly in).
func decodeWords(spirv []byte) ([]uint32, error) {
	if len(spirv) < 20 || len(spirv)%4 != 0 {
		return nil, newReflErr("truncated module")
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch binary.LittleEndian.Uint32(spirv) {
	case spirvMagicLE:
		order = binary.LittleEndian
	case spirvMagicBE:
		order = binary.BigEndian
	default:
		return nil, newReflErr("bad magic number")
	}
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = order.Uint32(spirv[i*4:])
	}
	return words, nil
}

// scan walks the instruction stream once, populating the decoder's
// lookup tables and returning every OpVariable's result id (in
// encounter order) alongside its result-type and storage-class maps.
func (d *decoder) scan() (varIDs []uint32, varType, varStorage map[uint32]uint32, err error) {
	varType = map[uint32]uint32{}
	varStorage = map[uint32]uint32{}

	i := 5
	for i < len(d.words) {
		instr := d.words[i]
		wordCount := int(instr >> 16)
		opcode := instr & 0xffff
		if wordCount == 0 || i+wordCount > len(d.words) {
			return nil, nil, nil, newReflErr("malformed instruction stream")
		}
		ops := d.words[i+1 : i+wordCount]

		switch opcode {
		case opEntryPoint:
			if len(ops) >= 3 {
				d.entryStage = stageFromExecutionModel(ops[0])
				d.entryName = decodeLiteralString(d.words, i+3, wordCount-3)
			}
		case opName:
			if len(ops) >= 1 {
				d.names[ops[0]] = decodeLiteralString(d.words, i+2, wordCount-2)
			}
		case opMemberName:
			// Member names are not needed for reflection; skipped.
		case opDecorate:
			if len(ops) >= 2 {
				target, dec := ops[0], ops[1]
				m := d.decorations[target]
				if m == nil {
					m = map[uint32]uint32{}
					d.decorations[target] = m
				}
				var lit uint32
				if len(ops) >= 3 {
					lit = ops[2]
				}
				m[dec] = lit
			}
		case opMemberDecorate:
			if len(ops) >= 3 {
				target, member, dec := ops[0], ops[1], ops[2]
				byMember := d.memberDecorations[target]
				if byMember == nil {
					byMember = map[uint32]map[uint32]uint32{}
					d.memberDecorations[target] = byMember
				}
				m := byMember[member]
				if m == nil {
					m = map[uint32]uint32{}
					byMember[member] = m
				}
				var lit uint32
				if len(ops) >= 4 {
					lit = ops[3]
				}
				m[dec] = lit
			}
		case opTypeStruct:
			if len(ops) >= 1 {
				d.typeStructMembers[ops[0]] = append([]uint32(nil), ops[1:]...)
			}
		case opTypePointer:
			if len(ops) >= 3 {
				d.typePointers[ops[0]] = ops[2]
				d.storageClasses[ops[0]] = ops[1]
			}
		case opTypeImage:
			if len(ops) >= 7 {
				d.imageSampled[ops[0]] = ops[6]
			}
		case opVariable:
			if len(ops) >= 3 {
				resultType, resultID, storageClass := ops[0], ops[1], ops[2]
				varIDs = append(varIDs, resultID)
				varType[resultID] = resultType
				varStorage[resultID] = storageClass
			}
		}

		i += wordCount
	}
	return varIDs, varType, varStorage, nil
}

// descriptorType classifies a variable's descriptor type from its
// storage class and, for UniformConstant variables, its pointee
// OpTypeImage's Sampled operand: Sampled==2 is a storage image
// (driver.DImage, read/write without a sampler), anything else
// UniformConstant is treated as a sampled/combined texture
// (driver.DTexture) — this reflector does not further split
// sampled-image from combined-image-sampler, matching the single
// DTexture/DSampler split driver.DescType already offers.
func (d *decoder) descriptorType(typeID, storageClass uint32) driver.DescType {
	switch storageClass {
	case scUniformConstant:
		pointee := d.typePointers[typeID]
		if d.imageSampled[pointee] == imageSampledStorage {
			return driver.DImage
		}
		return driver.DTexture
	case scStorageBuffer:
		return driver.DBuffer
	default:
		return driver.DConstant
	}
}

// structSize estimates a push-constant block's byte size as the
// largest declared Offset decoration plus 16 bytes, a conservative
// over-estimate (SPIR-V does not carry member sizes directly; exact
// sizing requires walking member types, which push-constant blocks in
// practice do not need beyond upload-range bookkeeping).
func (d *decoder) structSize(structType uint32) int {
	members := d.memberDecorations[structType]
	maxOffset := 0
	for _, decs := range members {
		if off, ok := decs[decorationOffset]; ok && int(off) > maxOffset {
			maxOffset = int(off)
		}
	}
	if maxOffset == 0 && len(d.typeStructMembers[structType]) == 0 {
		return 0
	}
	return maxOffset + 16
}

// decodeLiteralString decodes a SPIR-V literal string starting at word
// index start, spanning at most count words (the instruction's
// remaining operand words), stopping at the first NUL byte.
func decodeLiteralString(words []uint32, start, count int) string {
	if start < 0 || count <= 0 || start+count > len(words) {
		return ""
	}
	buf := make([]byte, 0, count*4)
	for _, w := range words[start : start+count] {
		b := [4]byte{byte(w), byte(w >> 8), byte(w >> 16), byte(w >> 24)}
		for _, c := range b {
			if c == 0 {
				return string(buf)
			}
			buf = append(buf, c)
		}
	}
	return string(buf)
}

// stageFromExecutionModel maps a SPIR-V OpEntryPoint execution model to
// a driver.Stage flag.
func stageFromExecutionModel(model uint32) driver.Stage {
	switch model {
	case emVertex:
		return driver.SVertex
	case emFragment:
		return driver.SFragment
	case emGLCompute:
		return driver.SCompute
	default:
		return 0
	}
}
