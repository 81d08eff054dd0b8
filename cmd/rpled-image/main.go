// Command rpled-image parses and pretty-prints a Program Image's header
// without running it. It applies the header checks vmimage.Parse makes; it
// does not check memory-plan fit or whether the module IDs are registered,
// which the Program Loader also requires. It is the tooling-boundary
// counterpart to the host-side compiler spec.md leaves out of scope: a
// compiler must emit a byte-exact image, and this is how to check one.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/rpled/firmware/internal/vmimage"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: rpled-image <image-file>")
		os.Exit(2)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "reading image:", err)
		os.Exit(1)
	}

	img, err := vmimage.Parse(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid image:", err)
		os.Exit(1)
	}

	fmt.Printf("version:    %d\n", img.Version)
	fmt.Printf("heap size:  %d bytes\n", img.HeapSize)
	fmt.Printf("modules:    %v\n", img.ModuleIDs)
	fmt.Printf("name:       %s\n", img.Name)
	if len(img.Params) > 0 {
		fmt.Println("parameters:")
		for _, p := range img.Params {
			fmt.Printf("  %-16s min=%d max=%d default=%d\n", p.Name, p.Min, p.Max, p.Default)
		}
	}
	fmt.Printf("bytecode:   %d bytes\n", len(img.Bytecode))
}
