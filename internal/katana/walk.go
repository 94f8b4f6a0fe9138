package katana

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WalkResult is the output of enumerating a set of input roots: the
// flat, deduplicated, deterministically-sorted list of regular files
// to archive, each paired with its canonical archive path.
type WalkResult struct {
	Entries []walkedFile
	Skipped []SkippedPath
}

type walkedFile struct {
	AbsPath     string
	ArchivePath string
	Size        uint64
	ModTime     int64
	ModTimeNS   uint32
}

// SkippedPath records a filesystem entry that was not archived along
// with the reason, surfaced to the progress sink as a warning rather
// than aborting the whole run.
type SkippedPath struct {
	Path   string
	Reason string
}

// WalkInputs enumerates every regular file reachable from inputs,
// skipping symlinks, directories, devices, FIFOs and sockets (Katana
// entries are regular files only, per the data model), and derives
// each file's archive path relative to the longest common ancestor
// directory shared by all inputs — the Go translation of the original
// Rust common_parent/normalize_path pair.
func WalkInputs(inputs []string) (*WalkResult, error) {
	cleaned := make([]string, len(inputs))
	for i, in := range inputs {
		cleaned[i] = filepath.Clean(in)
	}
	base := commonParent(cleaned)

	res := &WalkResult{}
	seen := make(map[string]bool)

	for _, root := range cleaned {
		info, err := os.Lstat(root)
		if err != nil {
			return nil, errIO(root, err)
		}
		if info.Mode().IsDir() {
			err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
				if walkErr != nil {
					res.Skipped = append(res.Skipped, SkippedPath{Path: p, Reason: walkErr.Error()})
					return nil
				}
				return visit(res, seen, p, base)
			})
			if err != nil {
				if kerr, ok := err.(*Error); ok {
					return nil, kerr
				}
				return nil, errIO(root, err)
			}
			continue
		}
		if err := visit(res, seen, root, base); err != nil {
			return nil, err
		}
	}

	sort.Slice(res.Entries, func(i, j int) bool {
		return res.Entries[i].ArchivePath < res.Entries[j].ArchivePath
	})
	return res, nil
}

func visit(res *WalkResult, seen map[string]bool, p, base string) error {
	fi, err := os.Lstat(p)
	if err != nil {
		res.Skipped = append(res.Skipped, SkippedPath{Path: p, Reason: err.Error()})
		return nil
	}
	mode := fi.Mode()
	switch {
	case mode.IsDir():
		return nil
	case mode&fs.ModeSymlink != 0:
		res.Skipped = append(res.Skipped, SkippedPath{Path: p, Reason: "symlink not archived"})
		return nil
	case !mode.IsRegular():
		res.Skipped = append(res.Skipped, SkippedPath{Path: p, Reason: "not a regular file"})
		return nil
	}

	archivePath := NormalizePath(relativeTo(base, p))
	if archivePath == "" {
		archivePath = filepath.Base(p)
	}
	if seen[archivePath] {
		return errDuplicateEntry(archivePath)
	}
	seen[archivePath] = true

	mt := fi.ModTime().UTC()
	res.Entries = append(res.Entries, walkedFile{
		AbsPath:     p,
		ArchivePath: archivePath,
		Size:        uint64(fi.Size()),
		ModTime:     mt.Unix(),
		ModTimeNS:   uint32(mt.Nanosecond()),
	})
	return nil
}

// commonParent returns the longest directory shared by every cleaned
// input path, mirroring original_source/src/katana.rs: common_parent.
// If the inputs share no component, it returns "/" (or the volume
// root on the current platform's path semantics).
func commonParent(paths []string) string {
	if len(paths) == 0 {
		return string(filepath.Separator)
	}
	dirs := make([][]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		info, err := os.Lstat(abs)
		if err == nil && !info.IsDir() {
			abs = filepath.Dir(abs)
		}
		dirs[i] = strings.Split(filepath.ToSlash(abs), "/")
	}
	common := dirs[0]
	for _, d := range dirs[1:] {
		common = commonPrefix(common, d)
	}
	if len(common) == 0 || (len(common) == 1 && common[0] == "") {
		return string(filepath.Separator)
	}
	return strings.Join(common, "/")
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

func relativeTo(base, target string) string {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		absTarget = target
	}
	rel, err := filepath.Rel(base, absTarget)
	if err != nil {
		return filepath.ToSlash(absTarget)
	}
	return filepath.ToSlash(rel)
}
