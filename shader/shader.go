// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package shader loads compiled SPIR-V shaders from a directory,
// a packr box or a kar archive.
//
// File names have exactly two dots: the first part is the name of the
// shader, second is the stage, and the .spv suffix ensures that
// the shader is compiled, e.g. triangle.vert.spv.
package shader

//go:generate glslangValidator -V ../shaders/triangle.vert -o ../shaders/triangle.vert.spv
//go:generate glslangValidator -V ../shaders/triangle.frag -o ../shaders/triangle.frag.spv

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
)

// Suffix marks compiled shader files.
const Suffix = ".spv"

// Magic is the first word of every SPIR-V module.
const Magic uint32 = 0x07230203

// Source lists and reads shader files.
type Source interface {
	List() ([]string, error)
	ReadFile(name string) ([]byte, error)
}

// ParseName splits a shader file name into the shader name and stage.
// ok is false for files that are not compiled shaders of a known stage.
func ParseName(file string) (name string, kind device.ShaderKind, ok bool) {
	if i := strings.LastIndexAny(file, `/\`); i >= 0 {
		file = file[i+1:]
	}
	if !strings.HasSuffix(file, Suffix) {
		return "", 0, false
	}
	nodes := strings.Split(strings.TrimSuffix(file, Suffix), ".")
	if len(nodes) != 2 || nodes[0] == "" {
		return "", 0, false
	}
	switch nodes[1] {
	case "vert":
		return nodes[0], device.VertexShader, true
	case "frag":
		return nodes[0], device.FragmentShader, true
	}
	return "", 0, false
}

// Load reads every compiled shader the source lists, sorted by name
// and then stage. Files that don't follow the naming rule are ignored.
func Load(src Source) ([]device.ShaderStage, error) {
	files, err := src.List()
	if err != nil {
		return nil, errors.Wrap(err, "listing shaders")
	}

	var stages []device.ShaderStage
	for _, f := range files {
		name, kind, ok := ParseName(f)
		if !ok {
			continue
		}
		code, err := src.ReadFile(f)
		if err != nil {
			return nil, errors.Wrapf(err, "reading shader %s", f)
		}
		if err := Check(code); err != nil {
			return nil, errors.Wrapf(err, "shader %s", f)
		}
		stages = append(stages, device.ShaderStage{
			Name:  name,
			Kind:  kind,
			Entry: "main",
			Code:  code,
		})
	}
	if len(stages) == 0 {
		return nil, errors.New("no compiled shaders found")
	}

	sort.SliceStable(stages, func(i, j int) bool {
		if stages[i].Name != stages[j].Name {
			return stages[i].Name < stages[j].Name
		}
		return stages[i].Kind < stages[j].Kind
	})
	return stages, nil
}

// Check does a shallow sanity check of SPIR-V code.
func Check(code []byte) error {
	switch {
	case len(code) < 20:
		return errors.Errorf("code too short: %d bytes", len(code))
	case len(code)%4 != 0:
		return errors.Errorf("code size %d not a multiple of 4", len(code))
	case binary.LittleEndian.Uint32(code) != Magic:
		return errors.New("not a SPIR-V module")
	}
	return nil
}

// Stub returns a vertex and fragment stage carrying only a SPIR-V
// header. Real drivers reject these, they are meant for the headless driver.
func Stub(name string) []device.ShaderStage {
	header := func() []byte {
		code := make([]byte, 20)
		binary.LittleEndian.PutUint32(code[0:], Magic)
		binary.LittleEndian.PutUint32(code[4:], 0x00010000)
		binary.LittleEndian.PutUint32(code[12:], 1)
		return code
	}
	return []device.ShaderStage{
		{Name: name, Kind: device.VertexShader, Entry: "main", Code: header()},
		{Name: name, Kind: device.FragmentShader, Entry: "main", Code: header()},
	}
}
