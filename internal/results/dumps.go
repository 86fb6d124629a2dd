package results

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rescale/simwatch/internal/localfs"
)

const autocheckpTag = "_autocheckp"

// Rename records one renamed dump.
type Rename struct {
	From string
	To   string
}

// DumpNumber extracts the dump index of a file such as run_12.vtu: the last
// '_' separated segment with the extension removed.
func DumpNumber(name string) (int, error) {
	seg := name[strings.LastIndex(name, "_")+1:]
	if i := strings.LastIndex(seg, "."); i >= 0 {
		seg = seg[:i]
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, fmt.Errorf("no dump number in %q", name)
	}
	return n, nil
}

func maxDump(names []string) (int, error) {
	highest := 0
	for _, n := range names {
		d, err := DumpNumber(n)
		if err != nil {
			return 0, err
		}
		if d > highest {
			highest = d
		}
	}
	return highest, nil
}

func sortByDump(names []string) error {
	nums := make(map[string]int, len(names))
	for _, n := range names {
		d, err := DumpNumber(n)
		if err != nil {
			return err
		}
		nums[n] = d
	}
	sort.SliceStable(names, func(i, j int) bool { return nums[names[i]] < nums[names[j]] })
	return nil
}

func ext(name string) string {
	return name[strings.LastIndex(name, ".")+1:]
}

// RenumberDumps renames the dumps written by an automatic checkpoint run so
// they continue the dump sequence of the base run. simName must contain
// "_autocheckp"; otherwise nothing happens. For parallel runs (ncpus > 1) the
// per-dump subdirectory, its pieces and the references inside the pvtu file
// are renamed too. With fsi set, the dumps of every solid are renumbered as well.
func RenumberDumps(dir, simName string, ncpus int, fsi bool) ([]Rename, error) {
	i := strings.Index(simName, autocheckpTag)
	if i < 0 {
		return nil, nil
	}
	base := simName[:i]

	pending, err := localfs.Glob(dir, base+autocheckpTag+"*vtu", "solid", "checkpoint")
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var renames []Rename

	prev, err := localfs.Glob(dir, base+"*vtu", "autocheckp", "solid", "checkpoint")
	if err != nil {
		return nil, err
	}
	offset, err := maxDump(prev)
	if err != nil {
		return nil, err
	}

	fresh, err := localfs.Glob(dir, base+"*"+autocheckpTag+"_*vtu", "solid", "checkpoint")
	if err != nil {
		return nil, err
	}
	if err := sortByDump(fresh); err != nil {
		return nil, err
	}
	for _, name := range fresh {
		k, _ := DumpNumber(name)
		stem := fmt.Sprintf("%s_%d", base, k+offset+1)
		target := stem + "." + ext(name)
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, target)); err != nil {
			return renames, fmt.Errorf("failed to rename %s: %w", name, err)
		}
		renames = append(renames, Rename{From: name, To: target})

		if ncpus > 1 {
			oldStem := strings.SplitN(name, ".", 2)[0]
			if err := renamePieces(dir, oldStem, stem, target); err != nil {
				return renames, err
			}
		}
	}

	if fsi {
		solidRenames, err := renumberSolids(dir, base)
		renames = append(renames, solidRenames...)
		if err != nil {
			return renames, err
		}
	}
	return renames, nil
}

// renamePieces moves the per-process pieces of a parallel dump from
// <oldStem>/ to <newStem>/ and rewrites the references in the pvtu file.
func renamePieces(dir, oldStem, newStem, pvtu string) error {
	oldDir := filepath.Join(dir, oldStem)
	if !localfs.IsDir(oldDir) {
		return nil
	}
	pieces, err := localfs.Glob(oldDir, "*")
	if err != nil {
		return err
	}
	for _, p := range pieces {
		target := newStem + "_" + p[strings.LastIndex(p, "_")+1:]
		if err := os.Rename(filepath.Join(oldDir, p), filepath.Join(oldDir, target)); err != nil {
			return fmt.Errorf("failed to rename piece %s: %w", p, err)
		}
	}

	pvtuPath := filepath.Join(dir, pvtu)
	data, err := os.ReadFile(pvtuPath)
	if err != nil {
		return err
	}
	data = bytes.ReplaceAll(data, []byte(oldStem), []byte(newStem))
	if err := os.WriteFile(pvtuPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(oldDir, filepath.Join(dir, newStem))
}

// SolidNames lists the solids that have dumps of the base run.
func SolidNames(dir, base string) ([]string, error) {
	prev, err := localfs.Glob(dir, base+"*solid*vtu", "autocheckp")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	prefix := base + "_solid_"
	for _, p := range prev {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		n := strings.SplitN(strings.TrimPrefix(p, prefix), "_", 2)[0]
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names, nil
}

func renumberSolids(dir, base string) ([]Rename, error) {
	solids, err := SolidNames(dir, base)
	if err != nil {
		return nil, err
	}
	if len(solids) == 0 {
		return nil, fmt.Errorf("could not find any solid dumps in %s", dir)
	}

	var renames []Rename
	for _, solid := range solids {
		solidBase := base + "_solid_" + solid
		prev, err := localfs.Glob(dir, solidBase+"*vtu", "autocheckp")
		if err != nil {
			return renames, err
		}
		offset, err := maxDump(prev)
		if err != nil {
			return renames, err
		}

		fresh, err := localfs.Glob(dir, base+autocheckpTag+"_solid_"+solid+"*vtu", "checkpoint")
		if err != nil {
			return renames, err
		}
		if err := sortByDump(fresh); err != nil {
			return renames, err
		}
		for _, name := range fresh {
			k, _ := DumpNumber(name)
			target := fmt.Sprintf("%s_%d.%s", solidBase, k+offset+1, ext(name))
			if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, target)); err != nil {
				return renames, fmt.Errorf("failed to rename %s: %w", name, err)
			}
			renames = append(renames, Rename{From: name, To: target})
		}
	}
	return renames, nil
}
