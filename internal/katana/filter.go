package katana

import "path"

// Filter selects a subset of an archive's entries by glob pattern
// over canonical archive paths, per spec §4.6. A nil or empty Filter
// matches everything.
type Filter struct {
	Patterns []string
}

// Matches reports whether archivePath satisfies the filter. With no
// patterns, every path matches.
func (f Filter) Matches(archivePath string) bool {
	if len(f.Patterns) == 0 {
		return true
	}
	for _, pat := range f.Patterns {
		if ok, err := path.Match(pat, archivePath); err == nil && ok {
			return true
		}
		// Also allow patterns like "*.txt" to match within any
		// directory depth, the way shell globs commonly behave for
		// archive tools, by trying the match against the basename too.
		if ok, err := path.Match(pat, path.Base(archivePath)); err == nil && ok {
			return true
		}
	}
	return false
}
