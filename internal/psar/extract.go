// Copyright (c) xeonliu
// Licensed under the MIT license

package psar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/xeonliu/pspdecrypt/internal/container"
)

type ExtractOptions struct {
	OutDir string
	// Only keeps entries whose name matches any of these glob patterns
	// ("kd/**", "*.prx"). Empty means everything.
	Only []string
	// Jobs caps concurrent entry workers; <1 means one.
	Jobs     int
	SecureID *[16]byte
	// DecryptEntries runs each non-plain entry through the decrypt
	// pipeline; unrecognized entries fall back to their stored bytes.
	DecryptEntries bool
}

// A ManifestEntry records what was written for one archive entry.
type ManifestEntry struct {
	Name   string
	Size   int
	Sum    uint64 // xxhash64 of the written bytes
	Stored bool   // true when the entry bypassed the pipeline
}

// Extract writes the archive's entries under opts.OutDir and returns a
// manifest sorted by name. Per-entry failures do not stop the other
// workers; they are joined into the returned error.
func Extract(ctx context.Context, log *slog.Logger, ar *Archive, opts ExtractOptions) ([]ManifestEntry, error) {
	if log == nil {
		log = slog.Default()
	}
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	for _, p := range opts.Only {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("psar: bad filter %q", p)
		}
	}

	var (
		mu       sync.Mutex
		manifest []ManifestEntry
		failures []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i := range ar.Entries {
		e := &ar.Entries[i]
		if !matchOnly(opts.Only, e.Name) {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			me, err := extractOne(log, e, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", e.Name, err))
				return nil // keep going
			}
			manifest = append(manifest, me)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(manifest, func(i, j int) bool { return manifest[i].Name < manifest[j].Name })
	return manifest, errors.Join(failures...)
}

// matchOnly assumes the patterns were validated up front; Match only
// errors on a bad pattern.
func matchOnly(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func extractOne(log *slog.Logger, e *Entry, opts ExtractOptions) (ManifestEntry, error) {
	data := e.Data()
	stored := true
	if opts.DecryptEntries && e.Flags&FlagPlain == 0 {
		res, err := container.DecryptContainer(data, opts.SecureID)
		switch {
		case err == nil:
			data = res.Data
			stored = false
			for _, d := range res.Diagnostics {
				log.Warn("entry decrypted with fallback", "entry", e.Name, "diag", d.String())
			}
		case errors.Is(err, container.ErrInvalidFormat), errors.Is(err, container.ErrArchive):
			// Not a container, keep the stored bytes.
			log.Debug("entry stored as-is", "entry", e.Name)
		default:
			return ManifestEntry{}, err
		}
	}

	dst := filepath.Join(opts.OutDir, filepath.FromSlash(e.Name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ManifestEntry{}, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return ManifestEntry{}, err
	}
	log.Info("extracted", "entry", e.Name, "size", len(data), "stored", stored)
	return ManifestEntry{Name: e.Name, Size: len(data), Sum: xxhash.Sum64(data), Stored: stored}, nil
}
