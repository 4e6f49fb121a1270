package explain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/opensource-finance/heron/internal/dataset"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/model"
)

// stamp identifies one version of a file on disk.
type stamp struct {
	size    int64
	modTime time.Time
}

func statFile(path string) (stamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stamp{}, &domain.MissingArtifactError{Path: path}
		}
		return stamp{}, fmt.Errorf("checking %s: %w", path, err)
	}
	return stamp{size: info.Size(), modTime: info.ModTime()}, nil
}

type bundleEntry struct {
	stamp  stamp
	bundle *model.Bundle
}

type backgroundEntry struct {
	stamp stamp
	rows  [][]float64
	sum   string
}

// artifactCache holds loaded bundles and background samples. An entry is
// served only while the file's size and modification time are unchanged.
type artifactCache struct {
	mu          sync.RWMutex
	bundles     map[string]bundleEntry
	backgrounds map[string]backgroundEntry

	bundleLoads     int
	backgroundLoads int
}

func newArtifactCache() *artifactCache {
	return &artifactCache{
		bundles:     make(map[string]bundleEntry),
		backgrounds: make(map[string]backgroundEntry),
	}
}

func (c *artifactCache) bundle(path string) (*model.Bundle, error) {
	st, err := statFile(path)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	e, ok := c.bundles[path]
	c.mu.RUnlock()
	if ok && e.stamp == st {
		return e.bundle, nil
	}

	b, err := model.Load(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.bundles[path] = bundleEntry{stamp: st, bundle: b}
	c.bundleLoads++
	c.mu.Unlock()
	return b, nil
}

// background returns a seeded sample of n rows projected onto features,
// with a checksum of the sampled values.
func (c *artifactCache) background(path string, features []string, n int, seed int64) (backgroundEntry, error) {
	st, err := statFile(path)
	if err != nil {
		return backgroundEntry{}, err
	}
	key := fmt.Sprintf("%s|%s|%d|%d", path, strings.Join(features, ","), n, seed)

	c.mu.RLock()
	e, ok := c.backgrounds[key]
	c.mu.RUnlock()
	if ok && e.stamp == st {
		return e, nil
	}

	frame, err := dataset.Load(path)
	if err != nil {
		return backgroundEntry{}, err
	}
	rows, err := frame.Project(features)
	if err != nil {
		return backgroundEntry{}, fmt.Errorf("background data %s: %w", path, err)
	}
	if len(rows) == 0 {
		return backgroundEntry{}, fmt.Errorf("background data %s: %w", path, model.ErrEmptyBackground)
	}
	sample := dataset.Sample(rows, n, seed)
	e = backgroundEntry{stamp: st, rows: sample, sum: checksumRows(sample)}

	c.mu.Lock()
	c.backgrounds[key] = e
	c.backgroundLoads++
	c.mu.Unlock()
	return e, nil
}

func checksumRows(rows [][]float64) string {
	h := xxhash.New()
	var buf [8]byte
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func (c *artifactCache) loads() (bundles, backgrounds int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bundleLoads, c.backgroundLoads
}
