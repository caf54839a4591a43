// qasm - assembles quill bytecode listings into CBOR artifacts
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/quill/manifest"
	"github.com/chazu/quill/pkg/bytecode"
	"github.com/chazu/quill/pkg/cache"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	output := flag.String("o", "", "Output path (default: input with .qbc extension)")
	verbose := flag.Bool("v", false, "Verbose output")
	useCache := flag.Bool("cache", false, "Use the artifact cache from quill.toml")
	listing := flag.Bool("S", false, "Print a disassembly of the result")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: qasm [options] file.qasm\n\n")
		fmt.Fprintf(os.Stderr, "Assembles a quill bytecode listing into a CBOR artifact.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  qasm main.qasm             # Assemble to main.qbc\n")
		fmt.Fprintf(os.Stderr, "  qasm -o build/m.qbc m.qasm # Explicit output path\n")
		fmt.Fprintf(os.Stderr, "  qasm -S main.qasm          # Also print a disassembly\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	if *verbose {
		commonlog.Configure(1, nil)
	}

	input := flag.Arg(0)
	source, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", input, err)
		os.Exit(1)
	}

	var store *cache.Store
	if *useCache {
		store = openCache(input, *verbose)
		if store != nil {
			defer store.Close()
		}
	}

	digest := cache.Digest(source)
	array := lookupCached(store, digest, *verbose)
	if array == nil {
		array, err = NewAssembler().Assemble(string(source))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		if store != nil {
			if err := store.Put(digest, array); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}

	path := *output
	if path == "" {
		path = strings.TrimSuffix(input, filepath.Ext(input)) + ".qbc"
	}
	data, err := bytecode.MarshalArray(array)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding artifact: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("Wrote %s (%d bytes of code, %d constants)\n",
			path, len(array.Code), len(array.Constants))
	}
	if *listing {
		fmt.Print(array.DisassembleWithName(filepath.Base(input)))
	}
}

// openCache locates the project manifest and opens the configured cache.
// A missing manifest or unconfigured cache just disables caching.
func openCache(input string, verbose bool) *cache.Store {
	m, err := manifest.FindAndLoad(filepath.Dir(input))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	if m == nil || m.CachePath() == "" {
		if verbose {
			fmt.Println("No cache configured, assembling from scratch")
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.CachePath()), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	store, err := cache.Open(m.CachePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	return store
}

func lookupCached(store *cache.Store, digest string, verbose bool) *bytecode.BytecodeArray {
	if store == nil {
		return nil
	}
	array, err := store.Get(digest)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	if verbose {
		fmt.Println("Using cached artifact")
	}
	return array
}
