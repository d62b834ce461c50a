// SPDX-License-Identifier: GPL-2.0-or-later

package sportsrec

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/camera"
	"github.com/EvanMerlock/sports-record/pkg/config"
	"github.com/EvanMerlock/sports-record/pkg/log"
	"github.com/EvanMerlock/sports-record/pkg/media"
	"github.com/EvanMerlock/sports-record/pkg/media/ff"
	"github.com/EvanMerlock/sports-record/pkg/metrics"
	"github.com/EvanMerlock/sports-record/pkg/preview"
	"github.com/EvanMerlock/sports-record/pkg/system"
	"github.com/EvanMerlock/sports-record/pkg/web"
)

// CaptureOptions returns the capture device options of the camera.
func CaptureOptions(c config.CameraConfig) ff.CaptureOptions {
	return ff.CaptureOptions{
		InputFormat: c.InputFormat,
		Location:    c.Device,
		Options:     c.Options,
		CodecID:     media.CodecH264,
		PixelFormat: c.PixelFormat,
		GopSize:     c.GopSize,
		MaxBFrames:  c.MaxBFrames,
		TimeBase:    c.TimeBase,
	}
}

// RunClient runs a camera node until ctx is canceled.
func RunClient(ctx context.Context, c config.ClientConfig) error { //nolint:funlen
	s := newServices()
	defer s.stop()

	if err := s.start(); err != nil {
		return err
	}
	logger := s.logger
	ff.RouteLogs(logger, log.LevelWarning)

	encoding, err := preview.ParseEncoding(c.PreviewEncoding)
	if err != nil {
		return err
	}

	capture, err := ff.OpenCapture(CaptureOptions(c.Camera))
	if err != nil {
		return fmt.Errorf("could not open capture device: %w", err)
	}
	defer capture.Close()
	logger.Info().Src("camera").Msgf("%s: capturing %v from %v",
		c.Name, capture.InputPixelFormat(), c.Camera.Device)

	m := metrics.New()

	sessionConfig := camera.SessionConfig{
		Source:            capture,
		NewStorageEncoder: ff.NewEncoderFunc(c.Camera.EncoderOptions()),
		Metrics:           m,
		Logger:            logger,
	}

	fatal := make(chan error, 2)
	var servers []*http.Server

	previewAddress := ""
	if c.Camera.PreviewEnabled() {
		previewConfig, err := camera.PreviewConfig(
			capture.Configuration(), c.Camera.PreviewCodec, c.Camera.PreviewWidth)
		if err != nil {
			return err
		}
		broadcaster := preview.NewBroadcaster(m)
		defer broadcaster.Close()

		sessionConfig.NewPreviewEncoder = ff.NewEncoderFunc(nil)
		sessionConfig.PreviewConfig = previewConfig
		sessionConfig.Preview = broadcaster

		previewServer := &http.Server{
			Addr:    c.PreviewAddress,
			Handler: web.NewPreviewRouter(preview.Handler(broadcaster, encoding, logger), m),
		}
		listenAndServe(previewServer, fatal)
		servers = append(servers, previewServer)
		previewAddress = c.PreviewAddress
	}

	sys := system.New(nil, logger)
	go sys.StatusLoop(s.ctx)

	statusServer := &http.Server{
		Addr:    c.HTTPAddress,
		Handler: web.NewClientRouter(sys.Status, m),
	}
	listenAndServe(statusServer, fatal)
	servers = append(servers, statusServer)

	node := camera.NewNode(camera.NodeConfig{
		URL:            c.RecorderURL,
		PreviewAddress: previewAddress,
		Session:        sessionConfig,
		MinBackoff:     time.Duration(c.MinBackoff),
		MaxBackoff:     time.Duration(c.MaxBackoff),
	})

	nodeCtx, cancelNode := context.WithCancel(ctx)
	nodeDone := make(chan struct{})
	go func() {
		node.Run(nodeCtx)
		close(nodeDone)
	}()
	logger.Info().Src("app").Msgf("%s: connecting to %v", c.Name, c.RecorderURL)

	err = wait(ctx, logger, fatal)

	// The capture device is closed after the node stops reading it.
	cancelNode()
	<-nodeDone
	shutdown(logger, servers...)
	return err
}
