package pcapio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otus-project/sngrep/internal/core"
)

func TestWriterThenOfflineInputRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWriter(path, f, layers.LinkTypeEthernet, 65535)
	require.NoError(t, err)

	payload := []byte("hello-pcap")
	frame := core.Frame{
		Timestamp:   time.Now(),
		CapturedLen: uint32(len(payload)),
		WireLen:     uint32(len(payload)),
		Bytes:       payload,
	}
	require.NoError(t, w.WritePacket(frame, layers.LinkTypeEthernet))
	require.NoError(t, w.Close())

	in, err := OpenOffline(path)
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, path, in.Name())
	assert.Equal(t, layers.LinkTypeEthernet, in.LinkType())

	got, err := in.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, payload, got.Bytes)

	_, err = in.ReadPacket()
	assert.Error(t, err, "a single-packet file must report an error once exhausted")
}

func TestOfflineInputSetFilterEmptyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := NewWriter(path, f, layers.LinkTypeEthernet, 65535)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	in, err := OpenOffline(path)
	require.NoError(t, err)
	defer in.Close()

	assert.NoError(t, in.SetFilter(""))
}

func TestOpenOfflineMissingFile(t *testing.T) {
	_, err := OpenOffline(filepath.Join(t.TempDir(), "does-not-exist.pcap"))
	assert.Error(t, err)
}
