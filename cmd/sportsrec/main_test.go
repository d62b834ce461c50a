// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/EvanMerlock/sports-record/pkg/config"
	"github.com/EvanMerlock/sports-record/pkg/media"
	"github.com/EvanMerlock/sports-record/pkg/media/segfile"

	"github.com/stretchr/testify/require"
)

var testConfig = media.StreamConfiguration{
	Width:       640,
	Height:      480,
	GopSize:     10,
	PixelFormat: media.PixelFormatYUV420P,
	CodecID:     media.CodecH264,
	TimeBase:    media.NewRational(1, 30),
}

func writeSegment(t *testing.T, path string, finalize bool) {
	t.Helper()
	m, err := segfile.NewMuxer(path, testConfig)
	require.NoError(t, err)
	require.NoError(t, m.WriteHeader())
	require.NoError(t, m.WritePacket(media.Packet{Payload: []byte{1, 2}, Key: true}))
	require.NoError(t, m.WritePacket(media.Packet{Payload: []byte{3}, PTS: 1, DTS: 1}))
	if finalize {
		require.NoError(t, m.Flush())
		require.NoError(t, m.WriteTrailer())
	}
	require.NoError(t, m.Close())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--env", filepath.Join(t.TempDir(), ".env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	finalized := filepath.Join(dir, "video_a.seg")
	writeSegment(t, finalized, true)
	unfinalized := filepath.Join(dir, "video_b.seg")
	writeSegment(t, unfinalized, false)

	out, err := execute(t, "inspect", finalized, unfinalized)
	require.NoError(t, err)
	require.Contains(t, out, finalized+": h264 640x480 yuv420p gop=10 bf=0 tb=1/30\n")
	require.Contains(t, out, "  packets=2 keyframes=1 bytes=3 flushes=1 finalized=true\n")
	require.Contains(t, out, "  packets=2 keyframes=1 bytes=3 flushes=0 finalized=false\n")

	out, err = execute(t, "inspect", "-v", finalized)
	require.NoError(t, err)
	require.Contains(t, out, "  packet pts=1 dts=1 size=1 key=false\n")
	require.Contains(t, out, "  trailer packets=2\n")

	_, err = execute(t, "inspect", filepath.Join(dir, "missing.seg"))
	require.Error(t, err)
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "server.toml")
	out, err := execute(t, "init", "server", path)
	require.NoError(t, err)
	require.Equal(t, "Wrote "+path+"\n", out)

	c, err := config.LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultServer(), *c)

	_, err = execute(t, "init", "server", path)
	require.Error(t, err)

	path = filepath.Join(dir, "client.yaml")
	_, err = execute(t, "init", "client", path)
	require.NoError(t, err)
	client, err := config.LoadClient(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultClient(), *client)

	_, err = execute(t, "init", "camera", filepath.Join(dir, "x.toml"))
	require.Error(t, err)
}

func TestServerMissingConfig(t *testing.T) {
	t.Setenv(config.EnvServerConfig, filepath.Join(t.TempDir(), "missing.toml"))
	_, err := execute(t, "server")
	require.ErrorIs(t, err, os.ErrNotExist)
}
