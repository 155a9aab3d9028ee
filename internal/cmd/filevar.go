// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"io"
	"os"

	"github.com/juju/errors"
)

// FileVar represents a path to a file.
type FileVar struct {
	// Path is the path to the file.
	Path string

	// StdinMarkers are the Path values that should be interpreted as
	// stdin. If it is empty then stdin is not supported.
	StdinMarkers []string
}

// Set stores the chosen path name in f.Path.
func (f *FileVar) Set(v string) error {
	f.Path = v
	return nil
}

// SetStdin sets StdinMarkers to the provided strings. If none are
// provided then the default of "-" is used.
func (f *FileVar) SetStdin(markers ...string) {
	if len(markers) == 0 {
		markers = []string{"-"}
	}
	f.StdinMarkers = markers
}

// IsStdin determines whether or not the path represents stdin.
func (f FileVar) IsStdin() bool {
	for _, marker := range f.StdinMarkers {
		if f.Path == marker {
			return true
		}
	}
	return false
}

// Open opens the file.
func (f *FileVar) Open(ctx *Context) (io.ReadCloser, error) {
	if f.Path == "" {
		return nil, errors.New("path not set")
	}
	if f.IsStdin() {
		return io.NopCloser(ctx.Stdin), nil
	}
	file, err := os.Open(ctx.AbsPath(f.Path))
	return file, errors.Trace(err)
}

// Read returns the contents of the file.
func (f *FileVar) Read(ctx *Context) ([]byte, error) {
	if f.Path == "" {
		return nil, errors.New("path not set")
	}
	if f.IsStdin() {
		data, err := io.ReadAll(ctx.Stdin)
		return data, errors.Trace(err)
	}
	data, err := os.ReadFile(ctx.AbsPath(f.Path))
	return data, errors.Trace(err)
}

// String returns the path to the file.
func (f *FileVar) String() string {
	return f.Path
}
