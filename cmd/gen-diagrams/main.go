// gen-diagrams renders every sequence definition in a directory as Mermaid
// and ASCII diagrams for the documentation.
// Run: go run ./cmd/gen-diagrams [definitions-dir] [output-dir]
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	_ "time/tzdata"

	"github.com/omnivurse/crm-eco-sub011/internal/diagram"
	"github.com/omnivurse/crm-eco-sub011/internal/expressions"
	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/internal/validation"
)

func main() {
	srcDir := filepath.Join("examples", "sequences")
	outDir := filepath.Join("docs", "diagrams")
	if len(os.Args) > 1 {
		srcDir = os.Args[1]
	}
	if len(os.Args) > 2 {
		outDir = os.Args[2]
	}

	n, err := generate(srcDir, outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gen-diagrams: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d diagrams to %s\n", n, outDir)
}

// generate writes <name>.md and <name>.txt for each definition in srcDir.
func generate(srcDir, outDir string) (int, error) {
	engines, err := expressions.NewRegistry()
	if err != nil {
		return 0, err
	}
	v, err := validation.NewDefinitionValidator(engines)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml" && ext != ".json") {
			continue
		}
		path := filepath.Join(srcDir, entry.Name())
		def, err := validation.LoadDefinitionFile(path)
		if err != nil {
			return count, err
		}
		if err := v.ValidateDefinition(def); err != nil {
			return count, fmt.Errorf("%s: %w", path, err)
		}

		model, err := diagram.Build(store.SequenceFromDefinition(def), nil, nil)
		if err != nil {
			return count, fmt.Errorf("%s: %w", path, err)
		}

		base := filepath.Join(outDir, strings.TrimSuffix(entry.Name(), ext))
		mermaid := "```mermaid\n" + diagram.RenderMermaid(model) + "```\n"
		if err := os.WriteFile(base+".md", []byte(mermaid), 0o644); err != nil {
			return count, err
		}
		if err := os.WriteFile(base+".txt", []byte(diagram.RenderASCII(model)), 0o644); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
