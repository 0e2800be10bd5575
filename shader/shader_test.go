// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package shader_test

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/devblok/vkloop/device"
	"github.com/devblok/vkloop/shader"
	"github.com/devblok/vkloop/utility/kar"
	qt "github.com/frankban/quicktest"
	"github.com/gobuffalo/packr"
)

func TestParseName(t *testing.T) {
	c := qt.New(t)
	for _, test := range []struct {
		file string
		name string
		kind device.ShaderKind
		ok   bool
	}{
		{"triangle.vert.spv", "triangle", device.VertexShader, true},
		{"shaders/triangle.frag.spv", "triangle", device.FragmentShader, true},
		{"triangle.geom.spv", "", 0, false},
		{"triangle.vert", "", 0, false},
		{"tri.angle.vert.spv", "", 0, false},
		{".vert.spv", "", 0, false},
	} {
		name, kind, ok := shader.ParseName(test.file)
		c.Check(ok, qt.Equals, test.ok, qt.Commentf(test.file))
		if test.ok {
			c.Check(name, qt.Equals, test.name)
			c.Check(kind, qt.Equals, test.kind)
		}
	}
}

func checkStages(c *qt.C, stages []device.ShaderStage) {
	c.Assert(stages, qt.HasLen, 2)
	c.Assert(stages[0].Kind, qt.Equals, device.VertexShader)
	c.Assert(stages[1].Kind, qt.Equals, device.FragmentShader)
	for _, s := range stages {
		c.Assert(s.Name, qt.Equals, "triangle")
		c.Assert(s.Entry, qt.Equals, "main")
		c.Assert(shader.Check(s.Code), qt.IsNil)
	}
}

func TestLoadDirectory(t *testing.T) {
	c := qt.New(t)
	stages, err := shader.Load(shader.DirSource("testdata"))
	c.Assert(err, qt.IsNil)
	checkStages(c, stages)
}

func TestLoadBox(t *testing.T) {
	c := qt.New(t)
	stages, err := shader.Load(shader.BoxSource{Box: packr.NewBox("./testdata")})
	c.Assert(err, qt.IsNil)
	checkStages(c, stages)
}

func TestLoadArchive(t *testing.T) {
	c := qt.New(t)
	builder, err := kar.NewBuilder(kar.Header{Author: "devblok", Version: 1})
	c.Assert(err, qt.IsNil)
	for _, name := range []string{"triangle.vert.spv", "triangle.frag.spv", "notes.txt"} {
		data, err := ioutil.ReadFile(filepath.Join("testdata", name))
		c.Assert(err, qt.IsNil)
		c.Assert(builder.Add(name, bytes.NewReader(data)), qt.IsNil)
	}
	var buf bytes.Buffer
	_, err = builder.WriteTo(&buf)
	c.Assert(err, qt.IsNil)

	ar, err := kar.Open(bytes.NewReader(buf.Bytes()))
	c.Assert(err, qt.IsNil)
	stages, err := shader.Load(shader.ArchiveSource{Archive: ar})
	c.Assert(err, qt.IsNil)
	checkStages(c, stages)
}

func TestLoadEmpty(t *testing.T) {
	c := qt.New(t)
	dir, err := ioutil.TempDir("", "shaders")
	c.Assert(err, qt.IsNil)
	defer os.RemoveAll(dir)

	_, err = shader.Load(shader.DirSource(dir))
	c.Assert(err, qt.ErrorMatches, "no compiled shaders found")
}

func TestLoadCorrupted(t *testing.T) {
	c := qt.New(t)
	dir, err := ioutil.TempDir("", "shaders")
	c.Assert(err, qt.IsNil)
	defer os.RemoveAll(dir)
	c.Assert(ioutil.WriteFile(filepath.Join(dir, "bad.vert.spv"), []byte("0123456789abcdefghij"), 0644), qt.IsNil)

	_, err = shader.Load(shader.DirSource(dir))
	c.Assert(err, qt.ErrorMatches, "shader bad.vert.spv: not a SPIR-V module")
}

func TestOpen(t *testing.T) {
	c := qt.New(t)
	src, closer, err := shader.Open("testdata")
	c.Assert(err, qt.IsNil)
	defer closer.Close()
	c.Assert(src, qt.Equals, shader.Source(shader.DirSource("testdata")))

	_, _, err = shader.Open(filepath.Join("testdata", "notes.txt"))
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestStub(t *testing.T) {
	c := qt.New(t)
	stages := shader.Stub("triangle")
	checkStages(c, stages)
}
