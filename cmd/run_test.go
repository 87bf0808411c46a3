package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otus-project/sngrep/internal/capture/pcapio"
	"github.com/otus-project/sngrep/internal/config"
	"github.com/otus-project/sngrep/internal/engine"
)

func writeEmptyPcap(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := pcapio.NewWriter(path, f, layers.LinkTypeEthernet, 65535)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return path
}

func TestAddInputsOffline(t *testing.T) {
	eng, err := engine.New(engine.Config{})
	require.NoError(t, err)

	cfg := &config.Config{Capture: config.CaptureConfig{Offline: writeEmptyPcap(t)}}
	require.NoError(t, addInputs(eng, cfg))
}

func TestAddInputsHEPListener(t *testing.T) {
	eng, err := engine.New(engine.Config{})
	require.NoError(t, err)

	cfg := &config.Config{HEP: config.HEPConfig{ListenURL: "127.0.0.1:0"}}
	require.NoError(t, addInputs(eng, cfg))
}

func TestAddInputsNoneConfiguredIsNoop(t *testing.T) {
	eng, err := engine.New(engine.Config{})
	require.NoError(t, err)

	cfg := &config.Config{}
	assert.NoError(t, addInputs(eng, cfg))
}

func TestAddInputsOfflineBadPath(t *testing.T) {
	eng, err := engine.New(engine.Config{})
	require.NoError(t, err)

	cfg := &config.Config{Capture: config.CaptureConfig{Offline: filepath.Join(t.TempDir(), "missing.pcap")}}
	assert.Error(t, addInputs(eng, cfg))
}
