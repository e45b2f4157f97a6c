// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Command shaderc compiles a WGSL shader to a SPIR-V binary, for
// feeding into graph.Reflect or driver.GPU.NewShaderCode offline.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/kestrelgfx/rengraph/internal/shaderc"
)

func main() {
	var (
		input  = flag.String("input", "", "WGSL source file (required)")
		output = flag.String("output", "", "SPIR-V output file (default: input with .spv suffix)")
	)
	flag.Parse()

	if *input == "" {
		log.Fatal("shaderc: -input is required")
	}
	out := *output
	if out == "" {
		out = *input + ".spv"
	}

	src, err := os.ReadFile(*input)
	if err != nil {
		log.Fatalf("shaderc: reading %s: %v", *input, err)
	}

	spirv, err := shaderc.CompileFile(*input, string(src))
	if err != nil {
		log.Fatalf("shaderc: %v", err)
	}

	if err := os.WriteFile(out, spirv, 0o644); err != nil {
		log.Fatalf("shaderc: writing %s: %v", out, err)
	}

	log.Printf("shaderc: wrote %s (%d bytes)\n", out, len(spirv))
}
