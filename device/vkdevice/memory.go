// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkdevice

import (
	"unsafe"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// hostVisible memory can be mapped and needs no explicit flushes.
const hostVisible = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)

func findMemoryType(memoryProperties vk.PhysicalDeviceMemoryProperties, filter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	for idx := uint32(0); idx < memoryProperties.MemoryTypeCount; idx++ {
		memoryProperties.MemoryTypes[idx].Deref()
		if filter&(1<<idx) != 0 && (memoryProperties.MemoryTypes[idx].PropertyFlags&properties) == properties {
			return idx, nil
		}
	}
	return 0, errors.Wrap(device.ErrorOutOfDeviceMemory, "no host visible memory type for vertex buffer")
}

// CreateBuffer implements device.Driver
func (d *Driver) CreateBuffer(dev device.Handle, size uint64) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}

	bci := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
		SharingMode: vk.SharingModeExclusive,
	}
	var buf vk.Buffer
	if err := check(vk.CreateBuffer(l.device, &bci, nil, &buf), "vk.CreateBuffer()"); err != nil {
		return device.NullHandle, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(l.device, buf, &requirements)
	requirements.Deref()

	memTypeIdx, err := findMemoryType(l.memory, requirements.MemoryTypeBits, hostVisible)
	if err != nil {
		vk.DestroyBuffer(l.device, buf, nil)
		return device.NullHandle, err
	}
	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memTypeIdx,
	}
	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(l.device, &mai, nil, &memory), "vk.AllocateMemory()"); err != nil {
		vk.DestroyBuffer(l.device, buf, nil)
		return device.NullHandle, err
	}
	if err := check(vk.BindBufferMemory(l.device, buf, memory, 0), "vk.BindBufferMemory()"); err != nil {
		vk.FreeMemory(l.device, memory, nil)
		vk.DestroyBuffer(l.device, buf, nil)
		return device.NullHandle, err
	}
	return d.objects.put(&buffer{buffer: buf, memory: memory, size: size}), nil
}

// WriteBuffer implements device.Driver. The buffer must not be in use
// by pending work.
func (d *Driver) WriteBuffer(dev, h device.Handle, data []byte) error {
	l, err := d.logical(dev)
	if err != nil {
		return err
	}
	b, ok := d.lookup(h).(*buffer)
	if !ok {
		return errors.Wrapf(device.ErrorValidationFailed, "buffer %d does not exist", h)
	}
	if uint64(len(data)) > b.size {
		return errors.Wrapf(device.ErrorValidationFailed, "write of %d bytes into buffer of %d", len(data), b.size)
	}
	if len(data) == 0 {
		return nil
	}

	var mapped unsafe.Pointer
	if err := check(vk.MapMemory(l.device, b.memory, 0, vk.DeviceSize(len(data)), 0, &mapped), "vk.MapMemory()"); err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(mapped), len(data)), data)
	vk.UnmapMemory(l.device, b.memory)
	return nil
}

// DestroyBuffer implements device.Driver
func (d *Driver) DestroyBuffer(dev, h device.Handle) {
	o, ok := d.objects.take(h)
	if !ok {
		return
	}
	b := o.(*buffer)
	vkDevice := d.vkDevice(dev)
	vk.DestroyBuffer(vkDevice, b.buffer, nil)
	vk.FreeMemory(vkDevice, b.memory, nil)
}
