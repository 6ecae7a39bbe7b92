package reload

import (
	"context"
	"strings"

	"github.com/tidefall/reflex/internal/loader"
	"github.com/tidefall/reflex/internal/rule"
)

// FileSource loads rules from a fixed list of files via the loader.
type FileSource struct {
	Paths []string
}

func (s *FileSource) Load(ctx context.Context) ([]rule.Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return loader.LoadPaths(s.Paths)
}

func (s *FileSource) Describe() string {
	return "files:" + strings.Join(s.Paths, ",")
}

// DirSource loads every rule file directly under a directory.
type DirSource struct {
	Dir string
}

func (s *DirSource) Load(ctx context.Context) ([]rule.Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return loader.LoadDir(s.Dir)
}

func (s *DirSource) Describe() string { return "dir:" + s.Dir }

// FuncSource adapts a function, mostly for tests.
type FuncSource struct {
	Name string
	Fn   func(ctx context.Context) ([]rule.Input, error)
}

func (s *FuncSource) Load(ctx context.Context) ([]rule.Input, error) { return s.Fn(ctx) }

func (s *FuncSource) Describe() string { return s.Name }
