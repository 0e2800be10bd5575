// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package shader

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/devblok/vkloop/utility/kar"
	"github.com/gobuffalo/packr"
)

// DirSource reads shaders from a directory tree.
type DirSource string

// List implements Source
func (d DirSource) List() ([]string, error) {
	var files []string
	if err := filepath.Walk(string(d), func(path string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !f.IsDir() && strings.HasSuffix(f.Name(), Suffix) {
			rel, err := filepath.Rel(string(d), path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return files, nil
}

// ReadFile implements Source
func (d DirSource) ReadFile(name string) ([]byte, error) {
	return ioutil.ReadFile(filepath.Join(string(d), filepath.FromSlash(name)))
}

// BoxSource reads shaders embedded with packr.
type BoxSource struct {
	Box packr.Box
}

// List implements Source
func (b BoxSource) List() ([]string, error) {
	return b.Box.List(), nil
}

// ReadFile implements Source
func (b BoxSource) ReadFile(name string) ([]byte, error) {
	return b.Box.Find(name)
}

// ArchiveSource reads shaders packed into a kar archive.
type ArchiveSource struct {
	Archive *kar.Archive
}

// List implements Source
func (a ArchiveSource) List() ([]string, error) {
	return a.Archive.Files(), nil
}

// ReadFile implements Source
func (a ArchiveSource) ReadFile(name string) ([]byte, error) {
	return a.Archive.ReadAll(name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open picks a source for path: kar archives are memory mapped,
// anything else is read as a directory. The closer must be
// closed once the shaders are loaded.
func Open(path string) (Source, io.Closer, error) {
	if strings.HasSuffix(path, ".kar") {
		ar, err := kar.OpenFile(path)
		if err != nil {
			return nil, nil, err
		}
		return ArchiveSource{Archive: ar}, ar, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		return nil, nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	return DirSource(path), nopCloser{}, nil
}
