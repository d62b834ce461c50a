// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/media"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadServer(t *testing.T) {
	t.Run("toml", func(t *testing.T) {
		path := writeFile(t, "sr_server_config.toml", `
team_name = "Hornets"
record_address = "0.0.0.0:8000"
output_directory = "/srv/clips"
output_format = "mkv"
drain_timeout = "3s"
max_disk_usage_gb = 1.5
`)
		c, err := LoadServer(path)
		require.NoError(t, err)

		expected := ServerConfig{
			TeamName:          "Hornets",
			RecordAddress:     "0.0.0.0:8000",
			WebAddress:        ":8080",
			OutputDir:         "/srv/clips",
			OutputFormat:      FormatMKV,
			Database:          "primary_database.db",
			LogDatabase:       "logs.db",
			MaxDiskUsageGB:    1.5,
			InstructionBuffer: 8,
			DrainTimeout:      Duration(3 * time.Second),
		}
		require.Equal(t, expected, *c)
		require.Equal(t, int64(1500000000), c.MaxDiskUsage())
	})
	t.Run("yaml", func(t *testing.T) {
		t.Setenv("SR_TEST_OUT", "/tmp/sr")
		path := writeFile(t, "server.yaml", `
teamName: Hornets
outputDir: ${SR_TEST_OUT}/out
outputFormat: seg
disableConsole: true
`)
		c, err := LoadServer(path)
		require.NoError(t, err)
		require.Equal(t, "/tmp/sr/out", c.OutputDir)
		require.Equal(t, FormatSeg, c.OutputFormat)
		require.True(t, c.DisableConsole)
		require.Equal(t, "127.0.0.1:8000", c.RecordAddress)
		require.Equal(t, Duration(10*time.Second), c.DrainTimeout)
	})
	t.Run("defaults", func(t *testing.T) {
		path := writeFile(t, "empty.toml", "")
		c, err := LoadServer(path)
		require.NoError(t, err)
		require.Equal(t, DefaultServer(), *c)
	})
	t.Run("invalid", func(t *testing.T) {
		cases := map[string]string{
			"format":  `output_format = "avi"`,
			"address": `record_address = "8000"`,
			"buffer":  `instruction_buffer = -1`,
			"disk":    `max_disk_usage_gb = -1.0`,
		}
		for name, content := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := LoadServer(writeFile(t, "c.toml", content))
				require.ErrorIs(t, err, ErrInvalidValue)
			})
		}
	})
	t.Run("malformed", func(t *testing.T) {
		_, err := LoadServer(writeFile(t, "c.toml", `drain_timeout = "soon"`))
		require.Error(t, err)
	})
	t.Run("unknownFormat", func(t *testing.T) {
		_, err := LoadServer(writeFile(t, "c.json", "{}"))
		require.ErrorIs(t, err, ErrUnknownFormat)
	})
	t.Run("missing", func(t *testing.T) {
		_, err := LoadServer(filepath.Join(t.TempDir(), "nil.toml"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLoadClient(t *testing.T) {
	t.Run("toml", func(t *testing.T) {
		path := writeFile(t, "sr_client_config.toml", `
name = "endzone"
recorder_url = "ws://10.0.0.1:8000/record"

[camera_settings]
device = "/dev/video2"
time_base = "1/60"
preview_codec = "png"

[camera_settings.options]
video_size = "1280x720"
`)
		c, err := LoadClient(path)
		require.NoError(t, err)
		require.Equal(t, "endzone", c.Name)
		require.Equal(t, "ws://10.0.0.1:8000/record", c.RecorderURL)
		require.Equal(t, ":4000", c.PreviewAddress)
		require.Equal(t, Duration(time.Second), c.MinBackoff)

		cam := c.Camera
		require.Equal(t, "v4l2", cam.InputFormat)
		require.Equal(t, "/dev/video2", cam.Device)
		require.Equal(t, map[string]string{"video_size": "1280x720"}, cam.Options)
		require.Equal(t, media.NewRational(1, 60), cam.TimeBase)
		require.Equal(t, media.CodecPNG, cam.PreviewCodec)
		require.True(t, cam.PreviewEnabled())
		require.Equal(t, map[string]string{"preset": "ultrafast", "crf": "28"}, cam.EncoderOptions())
	})
	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, "client.yml", `
previewEncoding: base64
camera:
  previewCodec: none
  crf: 23
`)
		c, err := LoadClient(path)
		require.NoError(t, err)
		require.Equal(t, "base64", c.PreviewEncoding)
		require.False(t, c.Camera.PreviewEnabled())
		require.Equal(t, 23, c.Camera.CRF)
		require.Equal(t, media.CodecID("none"), c.Camera.PreviewCodec)
	})
	t.Run("defaults", func(t *testing.T) {
		c, err := LoadClient(writeFile(t, "c.yaml", ""))
		require.NoError(t, err)
		require.Equal(t, DefaultClient(), *c)
		require.Equal(t, media.CodecMJPEG, c.Camera.PreviewCodec)
	})
	t.Run("invalid", func(t *testing.T) {
		cases := map[string]string{
			"scheme":  `recorder_url = "http://127.0.0.1:8000/record"`,
			"backoff": "min_backoff = \"10s\"\nmax_backoff = \"1s\"",
			"crf":     "[camera_settings]\ncrf = 99",
			"preview": "[camera_settings]\npreview_codec = \"h264\"",
		}
		for name, content := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := LoadClient(writeFile(t, "c.toml", content))
				require.ErrorIs(t, err, ErrInvalidValue)
			})
		}
	})
}

func TestWrite(t *testing.T) {
	for _, name := range []string{"server.toml", "server.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Write(path, DefaultServer()))

			c, err := LoadServer(path)
			require.NoError(t, err)
			require.Equal(t, DefaultServer(), *c)

			require.ErrorIs(t, Write(path, DefaultServer()), os.ErrExist)
		})
	}
	t.Run("client", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client.toml")
		require.NoError(t, Write(path, DefaultClient()))

		c, err := LoadClient(path)
		require.NoError(t, err)
		require.Equal(t, DefaultClient(), *c)
	})
}

func TestPath(t *testing.T) {
	require.Equal(t, "flag.toml", Path("flag.toml", EnvServerConfig, DefaultServerConfig))

	t.Setenv(EnvServerConfig, "/etc/sr/server.toml")
	require.Equal(t, "/etc/sr/server.toml", Path("", EnvServerConfig, DefaultServerConfig))

	t.Setenv(EnvServerConfig, "")
	require.Equal(t, DefaultServerConfig, Path("", EnvServerConfig, DefaultServerConfig))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SR_CLIENTCONF_LOC=/etc/sr/client.toml\n"), 0o600))

	t.Setenv(EnvClientConfig, "")
	os.Unsetenv(EnvClientConfig)

	require.NoError(t, LoadEnv(path, filepath.Join(dir, "missing.env")))
	require.Equal(t, "/etc/sr/client.toml", os.Getenv(EnvClientConfig))

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))
}
