// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model holds the vertex data the frame loop draws.
package model

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/devblok/vkloop/device"
	glm "github.com/go-gl/mathgl/mgl32"
)

// Vertex is a model vertex
type Vertex struct {
	Pos   glm.Vec2
	Color glm.Vec3
}

// VertexSize is the packed size of a Vertex in bytes.
const VertexSize = uint32(unsafe.Sizeof(Vertex{}))

// PushConstant is pushed to the vertex stage once per draw.
type PushConstant struct {
	Transform glm.Mat4
}

// PushConstantSize is the packed size of a PushConstant in bytes.
const PushConstantSize = uint32(unsafe.Sizeof(PushConstant{}))

// Bytes packs the push constant as little endian floats.
func (p PushConstant) Bytes() []byte {
	return packFloats(make([]byte, 0, PushConstantSize), p.Transform[:]...)
}

// VertexLayout describes Vertex to the pipeline.
func VertexLayout() device.VertexLayout {
	return device.VertexLayout{
		Stride: VertexSize,
		Attributes: []device.VertexAttribute{
			{
				Location: 0,
				Format:   device.FormatR32G32Sfloat,
				Offset:   uint32(unsafe.Offsetof(Vertex{}.Pos)),
			},
			{
				Location: 1,
				Format:   device.FormatR32G32B32Sfloat,
				Offset:   uint32(unsafe.Offsetof(Vertex{}.Color)),
			},
		},
	}
}

// Mesh is a non indexed triangle list.
type Mesh struct {
	Vertices []Vertex
}

// Len returns the number of vertices.
func (m Mesh) Len() uint32 {
	return uint32(len(m.Vertices))
}

// Size returns the packed size in bytes.
func (m Mesh) Size() uint64 {
	return uint64(len(m.Vertices)) * uint64(VertexSize)
}

// Bytes packs the vertices in the layout returned by VertexLayout.
func (m Mesh) Bytes() []byte {
	buf := make([]byte, 0, m.Size())
	for _, v := range m.Vertices {
		buf = packFloats(buf, v.Pos[:]...)
		buf = packFloats(buf, v.Color[:]...)
	}
	return buf
}

// Triangle is the classic red, green and blue triangle.
func Triangle() Mesh {
	return Mesh{Vertices: []Vertex{
		{Pos: glm.Vec2{0.0, -0.5}, Color: glm.Vec3{1, 0, 0}},
		{Pos: glm.Vec2{0.5, 0.5}, Color: glm.Vec3{0, 1, 0}},
		{Pos: glm.Vec2{-0.5, 0.5}, Color: glm.Vec3{0, 0, 1}},
	}}
}

// Quad is two triangles covering the unit square around the origin.
func Quad(color glm.Vec3) Mesh {
	a, b := glm.Vec2{-0.5, -0.5}, glm.Vec2{0.5, -0.5}
	c, d := glm.Vec2{0.5, 0.5}, glm.Vec2{-0.5, 0.5}
	return Mesh{Vertices: []Vertex{
		{a, color}, {b, color}, {c, color},
		{c, color}, {d, color}, {a, color},
	}}
}

// Spin returns a rotation around the z axis, angle in radians.
func Spin(angle float32) glm.Mat4 {
	return glm.HomogRotate3DZ(angle)
}

// Fit scales x by the inverse of the aspect ratio so shapes keep their
// proportions on non square surfaces.
func Fit(extent device.Extent) glm.Mat4 {
	if extent.IsZero() {
		return glm.Ident4()
	}
	aspect := float32(extent.Width) / float32(extent.Height)
	return glm.Scale3D(1/aspect, 1, 1)
}

func packFloats(buf []byte, floats ...float32) []byte {
	var tmp [4]byte
	for _, f := range floats {
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(f))
		buf = append(buf, tmp[:]...)
	}
	return buf
}
