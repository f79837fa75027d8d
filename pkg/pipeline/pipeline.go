// Package pipeline runs composable transformations over in-memory files.
//
// A pipeline reads its inputs once (Source), passes the file slice through
// each stage in order and stops at the first stage that returns an error.
// Per-file failures inside a stage are aggregated so that one run reports
// every broken input.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/poltergeist/wisp/pkg/utils"
)

// File is one file flowing through a pipeline
type File struct {
	Path     string // where the file was read from, or written to after Dest
	Base     string // directory Rel is relative to
	Rel      string // slash separated path below Base
	Contents []byte
	ModTime  time.Time // source modification time
}

// Clone copies the record with its own contents buffer
func (f *File) Clone() *File {
	c := *f
	c.Contents = append([]byte(nil), f.Contents...)
	return &c
}

// Ext returns the extension of Rel
func (f *File) Ext() string {
	return filepath.Ext(f.Rel)
}

// Stats collects counters while a pipeline runs
type Stats struct {
	mu      sync.Mutex
	Read    int
	Skipped int
	Written []string
	Bytes   int64
}

func (s *Stats) skip(n int) {
	s.mu.Lock()
	s.Skipped += n
	s.mu.Unlock()
}

func (s *Stats) wrote(path string, size int) {
	s.mu.Lock()
	s.Written = append(s.Written, path)
	s.Bytes += int64(size)
	s.mu.Unlock()
}

// Transform is one pipeline stage
type Transform func(ctx context.Context, files []*File, stats *Stats) ([]*File, error)

type stage struct {
	name      string
	transform Transform
}

// Pipeline is an ordered list of named stages
type Pipeline struct {
	name   string
	stages []stage
}

// New creates an empty pipeline
func New(name string) *Pipeline {
	return &Pipeline{name: name}
}

// Then appends a stage
func (p *Pipeline) Then(name string, t Transform) *Pipeline {
	p.stages = append(p.stages, stage{name: name, transform: t})
	return p
}

// Run feeds files through every stage. The returned error names the failing stage.
func (p *Pipeline) Run(ctx context.Context, files []*File) ([]*File, *Stats, error) {
	stats := &Stats{Read: len(files)}
	current := files

	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return current, stats, err
		}
		if len(current) == 0 {
			break
		}

		next, err := s.transform(ctx, current, stats)
		if err != nil {
			return current, stats, fmt.Errorf("%s: %s: %w", p.name, s.name, err)
		}
		current = next
	}

	return current, stats, nil
}

// Source reads every regular file matching pattern below root. Rel is
// relative to the static prefix of the pattern, so "src/img/**/*.*" yields
// "icons/star.svg" for src/img/icons/star.svg.
func Source(root, pattern string) ([]*File, error) {
	base, _ := utils.SplitPattern(pattern)
	baseDir := filepath.Join(root, filepath.FromSlash(base))

	paths, err := utils.Glob(root, pattern)
	if err != nil {
		return nil, err
	}

	files := make([]*File, 0, len(paths))
	for _, path := range paths {
		f, err := ReadFile(baseDir, path)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// ReadFile loads a single file relative to base
func ReadFile(base, path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return nil, err
	}
	return &File{
		Path:     path,
		Base:     base,
		Rel:      filepath.ToSlash(rel),
		Contents: data,
		ModTime:  info.ModTime(),
	}, nil
}

// Map applies fn to every file. Files for which fn returns nil are dropped.
// Errors from all files are combined.
func Map(fn func(ctx context.Context, f *File) (*File, error)) Transform {
	return func(ctx context.Context, files []*File, _ *Stats) ([]*File, error) {
		var result *multierror.Error
		out := make([]*File, 0, len(files))

		for _, f := range files {
			mapped, err := fn(ctx, f)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", f.Rel, err))
				continue
			}
			if mapped != nil {
				out = append(out, mapped)
			}
		}

		return out, result.ErrorOrNil()
	}
}

// Filter keeps files for which keep returns true
func Filter(keep func(f *File) bool) Transform {
	return func(_ context.Context, files []*File, _ *Stats) ([]*File, error) {
		out := files[:0:0]
		for _, f := range files {
			if keep(f) {
				out = append(out, f)
			}
		}
		return out, nil
	}
}

// Newer drops files whose destination is newer than the source and than
// every time in also. Skipped files are counted in Stats.
func Newer(destFor func(f *File) string, also ...time.Time) Transform {
	return func(_ context.Context, files []*File, stats *Stats) ([]*File, error) {
		out := files[:0:0]
		skipped := 0
		for _, f := range files {
			than := append([]time.Time{f.ModTime}, also...)
			if utils.IsNewer(destFor(f), than...) {
				skipped++
				continue
			}
			out = append(out, f)
		}
		stats.skip(skipped)
		return out, nil
	}
}

// Rename rewrites Rel
func Rename(fn func(rel string) string) Transform {
	return func(_ context.Context, files []*File, _ *Stats) ([]*File, error) {
		for _, f := range files {
			f.Rel = fn(f.Rel)
		}
		return files, nil
	}
}

// Dest writes every file to dir/Rel and points Path at the written file
func Dest(dir string) Transform {
	return func(ctx context.Context, files []*File, stats *Stats) ([]*File, error) {
		var result *multierror.Error
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return files, err
			}
			target := filepath.Join(dir, filepath.FromSlash(f.Rel))
			if err := utils.WriteFile(target, f.Contents); err != nil {
				result = multierror.Append(result, fmt.Errorf("write %s: %w", target, err))
				continue
			}
			f.Path = target
			f.Base = dir
			stats.wrote(target, len(f.Contents))
		}
		return files, result.ErrorOrNil()
	}
}

// Size calls report with the total size of the files passing through
func Size(report func(count int, total int64)) Transform {
	return func(_ context.Context, files []*File, _ *Stats) ([]*File, error) {
		var total int64
		for _, f := range files {
			total += int64(len(f.Contents))
		}
		report(len(files), total)
		return files, nil
	}
}
