package katana

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatches(t *testing.T) {
	f := Filter{Patterns: []string{"*.txt", "docs/*"}}
	assert.True(t, f.Matches("a.txt"))
	assert.True(t, f.Matches("dir/a.txt"))
	assert.True(t, f.Matches("docs/readme.md"))
	assert.False(t, f.Matches("bin/app"))
}

func TestFilterEmptyMatchesEverything(t *testing.T) {
	f := Filter{}
	assert.True(t, f.Matches("anything/at/all.bin"))
}
