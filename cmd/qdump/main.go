// qdump - prints a disassembly of a quill bytecode artifact
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/quill/pkg/bytecode"
)

func main() {
	positions := flag.Bool("p", false, "Print the raw source position table")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: qdump [options] file.qbc\n\n")
		fmt.Fprintf(os.Stderr, "Prints a disassembly of a CBOR bytecode artifact.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	input := flag.Arg(0)
	data, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", input, err)
		os.Exit(1)
	}

	array, err := bytecode.UnmarshalArray(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", input, err)
		os.Exit(1)
	}

	fmt.Print(array.DisassembleWithName(filepath.Base(input)))

	if *positions {
		fmt.Println("; Source positions:")
		for _, p := range array.SourcePositions {
			marker := ""
			if p.IsStatement {
				marker = " [stmt]"
			}
			fmt.Printf(";   %04X -> %d%s\n", p.BytecodeOffset, p.SourceOffset, marker)
		}
	}
}
