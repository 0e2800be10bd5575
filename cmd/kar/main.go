// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command kar packs a directory into a kar archive, or lists one.
//
//	kar -o shaders.kar ./shaders
//	kar -list shaders.kar
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devblok/vkloop/shader"
	"github.com/devblok/vkloop/utility/kar"
	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Version of the archives this command writes.
const Version = 1

type packOptions struct {
	author string
	// spirv keeps only files ending in the compiled shader suffix
	spirv bool
}

// pack compresses every regular file under dir into an archive written
// to w. Names are slash separated paths relative to dir.
func pack(dir string, w io.Writer, opts packOptions) (int, error) {
	builder, err := kar.NewBuilder(kar.Header{
		Author:      opts.author,
		DateCreated: time.Now().Unix(),
		Version:     Version,
	})
	if err != nil {
		return 0, err
	}

	var files []string
	if err := filepath.Walk(dir, func(path string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !f.Mode().IsRegular() {
			return nil
		}
		if opts.spirv && !strings.HasSuffix(f.Name(), shader.Suffix) {
			return nil
		}
		files = append(files, path)
		return nil
	}); err != nil {
		return 0, errors.Wrapf(err, "walk %s", dir)
	}

	var g errgroup.Group
	for _, path := range files {
		path := path
		g.Go(func() error {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			return errors.Wrapf(builder.Add(filepath.ToSlash(rel), f), "add %s", rel)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if _, err := builder.WriteTo(w); err != nil {
		return 0, errors.Wrap(err, "write archive")
	}
	return builder.Len(), nil
}

// list prints one line per archived file.
func list(path string, w io.Writer) error {
	archive, err := kar.OpenFile(path)
	if err != nil {
		return err
	}
	defer archive.Close()

	header := archive.Header()
	fmt.Fprintf(w, "author: %s, created: %s, version: %d\n",
		header.Author, time.Unix(header.DateCreated, 0).UTC().Format(time.RFC3339), header.Version)
	for _, entry := range header.Index {
		fmt.Fprintf(w, "%-40s %10s %10s\n", entry.Name,
			units.BytesSize(float64(entry.Size)), units.BytesSize(float64(entry.CompressedSize)))
	}
	return nil
}

func main() {
	var (
		out    = flag.String("o", "bundle.kar", "archive to write")
		author = flag.String("author", os.Getenv("USER"), "author recorded in the header")
		spirv  = flag.Bool("spirv", false, "only pack compiled shaders")
		show   = flag.String("list", "", "list the contents of an archive")
	)
	flag.Parse()

	if *show != "" {
		if err := list(*show, os.Stdout); err != nil {
			log.WithError(err).Fatal("could not list archive")
		}
		return
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: kar [-o archive] [-spirv] directory")
		os.Exit(2)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.WithError(err).Fatal("could not create archive")
	}
	n, err := pack(flag.Arg(0), f, packOptions{author: *author, spirv: *spirv})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(*out)
		log.WithError(err).Fatal("packing failed")
	}
	log.WithFields(log.Fields{"archive": *out, "files": n}).Info("archive written")
}
