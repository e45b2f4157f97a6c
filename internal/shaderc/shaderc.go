// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package shaderc compiles shader source to SPIR-V, the "shader
// source -> SPIR-V" pure function spec.md §1 names as an assumed
// external collaborator.
//
// Grounded on gogpu-gg's internal/native/shader_helper.go
// (CompileShaderToSPIRV), which wraps the same underlying compiler.
package shaderc

import (
	"errors"

	"github.com/gogpu/naga"
)

const prefix = "shaderc: "

func newErr(reason string) error { return errors.New(prefix + reason) }

// Compile translates WGSL source into a SPIR-V binary module, the
// form graph.Reflect and driver.GPU.NewShaderCode both expect.
func Compile(wgsl string) ([]byte, error) {
	if wgsl == "" {
		return nil, newErr("empty source")
	}
	spirv, err := naga.Compile(wgsl)
	if err != nil {
		return nil, newErr("compile failed: " + err.Error())
	}
	return spirv, nil
}

// CompileFile is Compile for source already read from disk, kept
// separate so callers reading from an fs.FS or embed.FS don't need to
// duplicate the error-wrapping.
func CompileFile(name, wgsl string) ([]byte, error) {
	spirv, err := Compile(wgsl)
	if err != nil {
		return nil, newErr(name + ": " + err.Error())
	}
	return spirv, nil
}
