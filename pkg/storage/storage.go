// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/EvanMerlock/sports-record/pkg/log"

	"github.com/google/uuid"
)

// SegmentPrefix file name prefix of every segment.
const SegmentPrefix = "video_"

// Manager storage manager.
type Manager struct {
	outputDir   string
	outputDirFS fs.FS
	disk        *disk
	remove      func(string) error

	logger *log.Logger
}

// NewManager returns new manager. diskSpace is the maximum number
// of bytes the segments may use, zero disables purging.
func NewManager(outputDir string, diskSpace int64, logger *log.Logger) *Manager {
	outputDirFS := os.DirFS(outputDir)
	return &Manager{
		outputDir:   outputDir,
		outputDirFS: outputDirFS,
		disk:        newDisk(diskSpace, outputDirFS),
		remove:      os.Remove,

		logger: logger,
	}
}

// OutputDir returns the segment directory.
func (s *Manager) OutputDir() string {
	return s.outputDir
}

// Prepare creates the output directory.
func (s *Manager) Prepare() error {
	err := os.MkdirAll(s.outputDir, 0o755)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create output directory: %v: %w", s.outputDir, err)
	}
	return nil
}

// ErrInvalidExtension invalid extension.
var ErrInvalidExtension = errors.New("invalid extension")

// NewSegmentPath allocates a new segment id and returns it with the
// path "<dir>/video_<id>.<ext>". The id is a random uuid without dashes.
func (s *Manager) NewSegmentPath(ext string) (string, string, error) {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
	}
	id := SegmentID(uuid.New())
	return id, filepath.Join(s.outputDir, SegmentPrefix+id+"."+ext), nil
}

// SegmentID formats the id in the simple form.
func SegmentID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// DiskUsage returns cached value if witin maxAge.
// Will update and return new value if the cached value is too old.
func (s *Manager) DiskUsage(maxAge time.Duration) (DiskUsage, error) {
	return s.disk.usage(maxAge)
}

// purge checks if disk usage is above 99%,
// if true deletes the oldest tenth of the segments.
func (s *Manager) purge() error {
	usage, err := s.DiskUsage(10 * time.Minute)
	if err != nil {
		return fmt.Errorf("update disk usage: %w", err)
	}
	if usage.Percent < 99 {
		return nil
	}

	segments, err := s.segmentsByAge()
	if err != nil {
		return err
	}
	n := len(segments)/10 + 1
	if n > len(segments) {
		n = len(segments)
	}
	for _, name := range segments[:n] {
		path := filepath.Join(s.outputDir, name)
		if err := s.remove(path); err != nil {
			return fmt.Errorf("remove segment: %w", err)
		}
		s.logger.Info().Src("storage").Msgf("purged %v", path)
	}
	s.disk.invalidate()
	return nil
}

// segmentsByAge returns the segment file names, oldest first.
func (s *Manager) segmentsByAge() ([]string, error) {
	entries, err := fs.ReadDir(s.outputDirFS, ".")
	if err != nil {
		return nil, fmt.Errorf("read directory %v: %w", s.outputDir, err)
	}

	type segment struct {
		name    string
		modTime time.Time
	}
	var segments []segment
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), SegmentPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		segments = append(segments, segment{name: e.Name(), modTime: info.ModTime()})
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].modTime.Before(segments[j].modTime)
	})

	names := make([]string, len(segments))
	for i, seg := range segments {
		names[i] = seg.name
	}
	return names, nil
}

// PurgeLoop runs Purge on an interval until context is canceled.
func (s *Manager) PurgeLoop(ctx context.Context, duration time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(duration):
			if err := s.purge(); err != nil {
				s.logger.Error().Src("storage").Msgf("could not purge storage: %v", err)
			}
		}
	}
}

// Only used to calculate and cache disk usage.
type disk struct {
	diskSpace      int64
	outputDirFS    fs.FS
	diskUsageBytes func(fs.FS) int64

	cache      DiskUsage
	lastUpdate time.Time
	cacheLock  sync.Mutex

	updateLock sync.Mutex
}

func newDisk(diskSpace int64, outputDirFS fs.FS) *disk {
	return &disk{
		diskSpace:      diskSpace,
		diskUsageBytes: diskUsageBytes,
		outputDirFS:    outputDirFS,
	}
}

func (d *disk) invalidate() {
	d.cacheLock.Lock()
	d.lastUpdate = time.Time{}
	d.cacheLock.Unlock()
}

// usage returns cached value if witin maxAge.
// Will update and return new value if the cached value is too old.
func (d *disk) usage(maxAge time.Duration) (DiskUsage, error) {
	maxTime := time.Now().Add(-maxAge)

	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	d.cacheLock.Unlock()

	// Cache is too old, acquire update lock and update it.
	d.updateLock.Lock()
	defer d.updateLock.Unlock()

	// Check if it was updated while we were waiting for the update lock.
	d.cacheLock.Lock()
	if d.lastUpdate.After(maxTime) {
		defer d.cacheLock.Unlock()
		return d.cache, nil
	}
	// Still outdated.
	d.cacheLock.Unlock()

	updatedUsage := d.calculateDiskUsage()

	d.cacheLock.Lock()
	d.cache = updatedUsage
	d.lastUpdate = time.Now()
	d.cacheLock.Unlock()

	return updatedUsage, nil
}

func (d *disk) calculateDiskUsage() DiskUsage {
	used := d.diskUsageBytes(d.outputDirFS)

	percent := func() int {
		if used == 0 || d.diskSpace == 0 {
			return 0
		}
		return int((used * 100) / d.diskSpace)
	}()

	return DiskUsage{
		Used:      used,
		Percent:   percent,
		Max:       d.diskSpace,
		Formatted: formatDiskUsage(float64(used)),
	}
}

// DiskUsage in Bytes.
type DiskUsage struct {
	Used      int64  `json:"used"`
	Percent   int    `json:"percent"`
	Max       int64  `json:"max"`
	Formatted string `json:"formatted"`
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatDiskUsage(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}

func diskUsageBytes(fileSystem fs.FS) int64 {
	var used int64
	fs.WalkDir(fileSystem, ".", func(_ string, d fs.DirEntry, err error) error { //nolint:errcheck
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		used += info.Size()

		return nil
	})
	return used
}
