// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devblok/vkloop/utility/kar"
	qt "github.com/frankban/quicktest"
)

var (
	testString1 = "idunvovkjnreovmegihjbrqlkmfrjnb"
	testString2 = "idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"
)

func build(c *qt.C, files map[string]string) []byte {
	builder, err := kar.NewBuilder(kar.Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	c.Assert(err, qt.IsNil)
	for name, content := range files {
		c.Assert(builder.Add(name, strings.NewReader(content)), qt.IsNil)
	}

	buf := bytes.NewBuffer([]byte{})
	written, err := builder.WriteTo(buf)
	c.Assert(err, qt.IsNil)
	c.Assert(written, qt.Equals, int64(buf.Len()))
	return buf.Bytes()
}

func TestCreateAndRead(t *testing.T) {
	c := qt.New(t)
	raw := build(c, map[string]string{"test": testString1, "test2": testString2})

	ar, err := kar.Open(bytes.NewReader(raw))
	c.Assert(err, qt.IsNil)

	f, err := ar.Open("test")
	c.Assert(err, qt.IsNil)
	c.Assert(f.Size(), qt.Equals, int64(len(testString1)))

	result := make([]byte, len(testString1))
	_, err = io.ReadFull(f, result)
	c.Assert(err, qt.IsNil)
	c.Assert(string(result), qt.Equals, testString1)
}

func TestCreateAndReadAll(t *testing.T) {
	c := qt.New(t)
	raw := build(c, map[string]string{"test": testString1, "test2": testString2})

	ar, err := kar.Open(bytes.NewReader(raw))
	c.Assert(err, qt.IsNil)
	c.Assert(ar.Files(), qt.DeepEquals, []string{"test", "test2"})
	c.Assert(ar.Header().Author, qt.Equals, "devblok")

	for name, want := range map[string]string{"test": testString1, "test2": testString2} {
		got, err := ar.ReadAll(name)
		c.Assert(err, qt.IsNil)
		c.Assert(string(got), qt.Equals, want)
	}
}

func TestMissingFile(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.Open(bytes.NewReader(build(c, map[string]string{"test": testString1})))
	c.Assert(err, qt.IsNil)

	_, err = ar.ReadAll("nope")
	c.Assert(err, qt.Equals, kar.ErrNotExist)
}

func TestNotAnArchive(t *testing.T) {
	c := qt.New(t)
	_, err := kar.Open(strings.NewReader("definitely not"))
	c.Assert(err, qt.Equals, kar.ErrFileFormat)

	_, err = kar.Open(strings.NewReader("KAR"))
	c.Assert(err, qt.Equals, kar.ErrFileFormat)
}

func TestConcurrentAdd(t *testing.T) {
	c := qt.New(t)
	builder, err := kar.NewBuilder(kar.Header{Version: 1})
	c.Assert(err, qt.IsNil)

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			c.Check(builder.Add(name, strings.NewReader(strings.Repeat(name, 4096))), qt.IsNil)
		}(name)
	}
	wg.Wait()
	c.Assert(builder.Len(), qt.Equals, 4)

	var buf bytes.Buffer
	_, err = builder.WriteTo(&buf)
	c.Assert(err, qt.IsNil)

	ar, err := kar.Open(bytes.NewReader(buf.Bytes()))
	c.Assert(err, qt.IsNil)
	got, err := ar.ReadAll("c")
	c.Assert(err, qt.IsNil)
	c.Assert(string(got), qt.Equals, strings.Repeat("c", 4096))
}

func TestOpenFile(t *testing.T) {
	c := qt.New(t)
	dir, err := ioutil.TempDir("", "kar")
	c.Assert(err, qt.IsNil)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "test.kar")
	c.Assert(ioutil.WriteFile(path, build(c, map[string]string{"test2": testString2}), 0644), qt.IsNil)

	ar, err := kar.OpenFile(path)
	c.Assert(err, qt.IsNil)
	defer ar.Close()

	got, err := ar.ReadAll("test2")
	c.Assert(err, qt.IsNil)
	c.Assert(string(got), qt.Equals, testString2)
}
