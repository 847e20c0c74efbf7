package validation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"openai_api_key", true},
		{"my-key-2", true},
		{"", false},
		{"has space", false},
		{"dot.key", false},
		{"slash/key", false},
		{"ключ", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidIdentifier(tt.in), tt.in)
	}
}

func TestPathValidator(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "sub"), 0o755))
	v, err := NewPathValidator(base)
	require.NoError(t, err)

	got, err := v.Validate("wf-1.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(v.Base(), "wf-1.json"), got)

	got, err = v.Validate("sub/../sub/wf-2.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(v.Base(), "sub", "wf-2.json"), got)

	for _, bad := range []string{"", "../escape.json", "/etc/passwd", "sub/../../x", "missing/dir/x.json"} {
		_, err := v.Validate(bad)
		var pe *PathError
		assert.True(t, errors.As(err, &pe), "expected PathError for %q, got %v", bad, err)
	}
}

func TestPathValidator_SymlinkEscape(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(base, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	v, err := NewPathValidator(base)
	require.NoError(t, err)

	_, err = v.Validate("link/wf.json")
	assert.Error(t, err)
}

func TestNewPathValidator_RequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := NewPathValidator(file)
	assert.Error(t, err)
	_, err = NewPathValidator(filepath.Join(file, "missing"))
	assert.Error(t, err)
}
