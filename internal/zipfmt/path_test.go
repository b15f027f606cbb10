package zipfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEntryName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		entry   string
		wantErr bool
	}{
		{"plain relative", "a/b/c.txt", false},
		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "a/../../etc/passwd", true},
		{"nul byte", "a\x00b", true},
		{"drive letter", "C:\\Windows", true},
		{"unc prefix", `\\server\share`, true},
		{"dotdot component exact", "..", true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := validateEntryName(tc.entry)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestJunkPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "c.txt", junkPath("a/b/c.txt"))
	assert.Equal(t, "c.txt", junkPath(`a\b\c.txt`))
	assert.Equal(t, "c.txt", junkPath("c.txt"))
}

func TestSelectionPolicyIncludeExclude(t *testing.T) {
	t.Parallel()

	p := newSelectionPolicy([]string{"**/*.go"}, []string{"**/*_test.go"}, false)

	assert.True(t, p.Matches("pkg/foo.go"))
	assert.False(t, p.Matches("pkg/foo_test.go"))
	assert.False(t, p.Matches("README.md"))
}

func TestSelectionPolicyNoIncludesMeansEverything(t *testing.T) {
	t.Parallel()

	p := newSelectionPolicy(nil, []string{"*.tmp"}, false)
	assert.True(t, p.Matches("a.txt"))
	assert.False(t, p.Matches("a.tmp"))
}

func TestSelectionPolicyCaseFold(t *testing.T) {
	t.Parallel()

	p := newSelectionPolicy([]string{"*.TXT"}, nil, true)
	assert.True(t, p.Matches("readme.txt"))
}

func TestSelectionPolicyUnmatchedIncludes(t *testing.T) {
	t.Parallel()

	p := newSelectionPolicy([]string{"*.go", "*.rs"}, nil, false)
	p.Matches("main.go")

	unmatched := p.UnmatchedIncludes()
	require.Len(t, unmatched, 1)
	assert.Equal(t, "*.rs", unmatched[0])
}
