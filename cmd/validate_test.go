package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunValidateSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sngrep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sngrep:
  capture:
    interface: eth0
`), 0o600))

	var buf bytes.Buffer
	err := runValidate(path, &buf)
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "VALID:")
	assert.Contains(t, buf.String(), "eth0")
}

func TestRunValidateMissingPath(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate("", &buf)
	assert.Error(t, err)
	assert.Empty(t, buf.String())
}

func TestRunValidateLoadFailure(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate(filepath.Join(t.TempDir(), "missing.yaml"), &buf)
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "INVALID:")
}
