package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kasuganosora/eventvm/resource"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <paths...>",
	Short: "Check event definition files",
	Long: `Parse every given file, or every .json/.yaml/.yml file in a given
directory, and check each page for malformed indentation, unknown
triggers and unmatched loops.

Exits with status 1 if any file fails.

Examples:
  eventvm validate data/events
  eventvm validate intro.yaml shop.json`,
	Args: cobra.MinimumNArgs(1),
	Run:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	files, err := expandPaths(args)
	if err != nil {
		fatalf("Error: %v", err)
	}

	failed := 0
	seen := map[int]string{}
	for _, path := range files {
		evs, err := resource.LoadFile(path)
		if err == nil {
			err = checkEvents(evs, path, seen)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%d events)\n", path, len(evs))
	}
	if failed > 0 {
		fatalf("%d of %d files failed", failed, len(files))
	}
}

func checkEvents(evs []*resource.GameEvent, path string, seen map[int]string) error {
	for _, ev := range evs {
		if err := resource.ValidateEvent(ev); err != nil {
			return err
		}
		if prev, dup := seen[ev.ID]; dup {
			return fmt.Errorf("event %d already defined in %s", ev.ID, prev)
		}
		seen[ev.ID] = path
	}
	return nil
}

// expandPaths replaces directories with the definition files they contain.
func expandPaths(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			files = append(files, arg)
			continue
		}
		var inDir []string
		for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
			m, err := filepath.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, err
			}
			inDir = append(inDir, m...)
		}
		sort.Strings(inDir)
		files = append(files, inDir...)
	}
	return files, nil
}
