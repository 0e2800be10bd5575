// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkdevice

import (
	"time"
	"unsafe"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// CreateCommandPool implements device.Driver. Buffers of the pool can
// be reset individually.
func (d *Driver) CreateCommandPool(dev device.Handle, queueFamily uint32) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}

	var pool vk.CommandPool
	if err := check(vk.CreateCommandPool(l.device, &cpci, nil, &pool), "vk.CreateCommandPool()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(&commandPool{pool: pool}), nil
}

// DestroyCommandPool implements device.Driver. Buffers allocated from
// the pool are freed with it.
func (d *Driver) DestroyCommandPool(dev, h device.Handle) {
	o, ok := d.objects.take(h)
	if !ok {
		return
	}
	pool := o.(*commandPool)
	for _, cmd := range pool.buffers {
		d.objects.take(cmd)
	}
	vk.DestroyCommandPool(d.vkDevice(dev), pool.pool, nil)
}

// AllocateCommandBuffers implements device.Driver
func (d *Driver) AllocateCommandBuffers(dev, h device.Handle, count int) ([]device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return nil, err
	}
	pool, ok := d.lookup(h).(*commandPool)
	if !ok {
		return nil, errors.Wrapf(device.ErrorValidationFailed, "command pool %d does not exist", h)
	}

	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	buffers := make([]vk.CommandBuffer, count)
	if err := check(vk.AllocateCommandBuffers(l.device, &cbai, buffers), "vk.AllocateCommandBuffers()"); err != nil {
		return nil, err
	}

	handles := make([]device.Handle, 0, count)
	for _, b := range buffers {
		handles = append(handles, d.objects.put(&commandBuffer{buffer: b, pool: h}))
	}
	pool.buffers = append(pool.buffers, handles...)
	return handles, nil
}

func (d *Driver) commandBuffer(h device.Handle) (vk.CommandBuffer, error) {
	if cmd, ok := d.lookup(h).(*commandBuffer); ok {
		return cmd.buffer, nil
	}
	return nil, errors.Wrapf(device.ErrorValidationFailed, "command buffer %d does not exist", h)
}

// ResetCommandBuffer implements device.Driver
func (d *Driver) ResetCommandBuffer(dev, h device.Handle) error {
	cmd, err := d.commandBuffer(h)
	if err != nil {
		return err
	}
	return check(vk.ResetCommandBuffer(cmd, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit)), "vk.ResetCommandBuffer()")
}

// RecordCommandBuffer implements device.Driver
func (d *Driver) RecordCommandBuffer(dev, h device.Handle, rec device.Recording) error {
	cmd, err := d.commandBuffer(h)
	if err != nil {
		return err
	}
	renderPass, ok := d.lookup(rec.RenderPass).(vk.RenderPass)
	if !ok {
		return errors.Wrapf(device.ErrorValidationFailed, "render pass %d does not exist", rec.RenderPass)
	}
	framebuffer, ok := d.lookup(rec.Framebuffer).(vk.Framebuffer)
	if !ok {
		return errors.Wrapf(device.ErrorValidationFailed, "framebuffer %d does not exist", rec.Framebuffer)
	}
	pipeline, ok := d.lookup(rec.Pipeline).(vk.Pipeline)
	if !ok {
		return errors.Wrapf(device.ErrorValidationFailed, "pipeline %d does not exist", rec.Pipeline)
	}

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := check(vk.BeginCommandBuffer(cmd, &cbbi), "vk.BeginCommandBuffer()"); err != nil {
		return err
	}

	clearValues := make([]vk.ClearValue, 1)
	clearValues[0].SetColor(rec.ClearColor[:])
	extent := vk.Extent2D{Width: rec.Extent.Width, Height: rec.Extent.Height}
	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  renderPass,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd, &rpbi, vk.SubpassContentsInline)
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, pipeline)
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{{Extent: extent}})

	if len(rec.PushConstants) > 0 {
		layout, ok := d.lookup(rec.Layout).(vk.PipelineLayout)
		if !ok {
			return errors.Wrapf(device.ErrorValidationFailed, "pipeline layout %d does not exist", rec.Layout)
		}
		vk.CmdPushConstants(cmd, layout, vk.ShaderStageFlags(vk.ShaderStageVertexBit), 0,
			uint32(len(rec.PushConstants)), unsafe.Pointer(&rec.PushConstants[0]))
	}
	if rec.VertexBuffer != device.NullHandle && rec.VertexCount > 0 {
		b, ok := d.lookup(rec.VertexBuffer).(*buffer)
		if !ok {
			return errors.Wrapf(device.ErrorValidationFailed, "buffer %d does not exist", rec.VertexBuffer)
		}
		vk.CmdBindVertexBuffers(cmd, 0, 1, []vk.Buffer{b.buffer}, []vk.DeviceSize{0})
		vk.CmdDraw(cmd, rec.VertexCount, 1, 0, 0)
	}
	vk.CmdEndRenderPass(cmd)

	return check(vk.EndCommandBuffer(cmd), "vk.EndCommandBuffer()")
}

// CreateSemaphore implements device.Driver
func (d *Driver) CreateSemaphore(dev device.Handle) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}
	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := check(vk.CreateSemaphore(l.device, &sci, nil, &semaphore), "vk.CreateSemaphore()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(semaphore), nil
}

// DestroySemaphore implements device.Driver
func (d *Driver) DestroySemaphore(dev, h device.Handle) {
	if o, ok := d.objects.take(h); ok {
		vk.DestroySemaphore(d.vkDevice(dev), o.(vk.Semaphore), nil)
	}
}

// CreateFence implements device.Driver
func (d *Driver) CreateFence(dev device.Handle, signaled bool) (device.Handle, error) {
	l, err := d.logical(dev)
	if err != nil {
		return device.NullHandle, err
	}
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fci.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := check(vk.CreateFence(l.device, &fci, nil, &fence), "vk.CreateFence()"); err != nil {
		return device.NullHandle, err
	}
	return d.objects.put(fence), nil
}

// DestroyFence implements device.Driver
func (d *Driver) DestroyFence(dev, h device.Handle) {
	if o, ok := d.objects.take(h); ok {
		vk.DestroyFence(d.vkDevice(dev), o.(vk.Fence), nil)
	}
}

// WaitForFence implements device.Driver
func (d *Driver) WaitForFence(dev, h device.Handle, timeout time.Duration) device.Result {
	l, err := d.logical(dev)
	if err != nil {
		return device.ErrorValidationFailed
	}
	fence, ok := d.lookup(h).(vk.Fence)
	if !ok {
		return device.ErrorValidationFailed
	}
	return device.Result(vk.WaitForFences(l.device, 1, []vk.Fence{fence}, vk.True, uint64(timeout.Nanoseconds())))
}

// ResetFence implements device.Driver
func (d *Driver) ResetFence(dev, h device.Handle) device.Result {
	l, err := d.logical(dev)
	if err != nil {
		return device.ErrorValidationFailed
	}
	fence, ok := d.lookup(h).(vk.Fence)
	if !ok {
		return device.ErrorValidationFailed
	}
	return device.Result(vk.ResetFences(l.device, 1, []vk.Fence{fence}))
}

// AcquireNextImage implements device.Driver
func (d *Driver) AcquireNextImage(dev, h device.Handle, timeout time.Duration, semaphore device.Handle) (uint32, device.Result) {
	l, err := d.logical(dev)
	if err != nil {
		return 0, device.ErrorValidationFailed
	}
	sc, ok := d.lookup(h).(*swapchain)
	if !ok {
		return 0, device.ErrorValidationFailed
	}
	signal, ok := d.lookup(semaphore).(vk.Semaphore)
	if !ok {
		return 0, device.ErrorValidationFailed
	}

	var imageIndex uint32
	ret := vk.AcquireNextImage(l.device, sc.swapchain, uint64(timeout.Nanoseconds()), signal, vk.NullFence, &imageIndex)
	return imageIndex, device.Result(ret)
}

// QueueSubmit implements device.Driver
func (d *Driver) QueueSubmit(queue device.Handle, s device.Submission) device.Result {
	q, ok := d.lookup(queue).(vk.Queue)
	if !ok {
		return device.ErrorValidationFailed
	}
	cmd, err := d.commandBuffer(s.Command)
	if err != nil {
		return device.ErrorValidationFailed
	}
	fence := vk.NullFence
	if s.Fence != device.NullHandle {
		if fence, ok = d.lookup(s.Fence).(vk.Fence); !ok {
			return device.ErrorValidationFailed
		}
	}

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}
	if s.Wait != device.NullHandle {
		wait, ok := d.lookup(s.Wait).(vk.Semaphore)
		if !ok {
			return device.ErrorValidationFailed
		}
		submit.WaitSemaphoreCount = 1
		submit.PWaitSemaphores = []vk.Semaphore{wait}
		submit.PWaitDstStageMask = []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
	}
	if s.Signal != device.NullHandle {
		signal, ok := d.lookup(s.Signal).(vk.Semaphore)
		if !ok {
			return device.ErrorValidationFailed
		}
		submit.SignalSemaphoreCount = 1
		submit.PSignalSemaphores = []vk.Semaphore{signal}
	}

	return device.Result(vk.QueueSubmit(q, 1, []vk.SubmitInfo{submit}, fence))
}

// QueuePresent implements device.Driver
func (d *Driver) QueuePresent(queue device.Handle, p device.Presentation) device.Result {
	q, ok := d.lookup(queue).(vk.Queue)
	if !ok {
		return device.ErrorValidationFailed
	}
	sc, ok := d.lookup(p.Swapchain).(*swapchain)
	if !ok {
		return device.ErrorValidationFailed
	}

	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{sc.swapchain},
		PImageIndices:  []uint32{p.ImageIndex},
	}
	if p.Wait != device.NullHandle {
		wait, ok := d.lookup(p.Wait).(vk.Semaphore)
		if !ok {
			return device.ErrorValidationFailed
		}
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{wait}
	}
	return device.Result(vk.QueuePresent(q, &presentInfo))
}
