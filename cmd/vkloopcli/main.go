// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command vkloopcli prints the adapters Vulkan reports as JSON,
// with the reason an adapter could not be used for rendering.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"os"
	"sort"

	"github.com/devblok/vkloop/core"
	"github.com/devblok/vkloop/device"
	"github.com/devblok/vkloop/device/headless"
	"github.com/devblok/vkloop/device/vkdevice"
	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type queueFamilyInfo struct {
	Index    uint32   `json:"index"`
	Count    uint32   `json:"count"`
	Supports []string `json:"supports"`
}

type adapterInfo struct {
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	VendorID      uint32            `json:"vendorId"`
	DeviceID      uint32            `json:"deviceId"`
	DriverVersion uint32            `json:"driverVersion"`
	Memory        string            `json:"memory"`
	MemoryBytes   uint64            `json:"memoryBytes"`
	QueueFamilies []queueFamilyInfo `json:"queueFamilies"`
	Extensions    []string          `json:"extensions,omitempty"`
	Suitable      bool              `json:"suitable"`
	Reason        string            `json:"reason,omitempty"`
	Score         uint64            `json:"score"`
}

func queueSupports(f device.QueueFamily) []string {
	var s []string
	if f.Flags.Has(device.QueueGraphics) {
		s = append(s, "graphics")
	}
	if f.Flags.Has(device.QueueCompute) {
		s = append(s, "compute")
	}
	if f.Flags.Has(device.QueueTransfer) {
		s = append(s, "transfer")
	}
	if f.SupportsPresent {
		s = append(s, "present")
	}
	return s
}

// describe orders adapters the way the renderer would prefer them.
func describe(adapters []device.Adapter, req core.Requirements, extensions bool) []adapterInfo {
	infos := make([]adapterInfo, 0, len(adapters))
	for _, a := range adapters {
		suitable, reason := core.Suitable(a, req)
		info := adapterInfo{
			Name:          a.Name,
			Type:          a.Type.String(),
			VendorID:      a.VendorID,
			DeviceID:      a.DeviceID,
			DriverVersion: a.DriverVersion,
			Memory:        units.BytesSize(float64(a.MemorySize)),
			MemoryBytes:   a.MemorySize,
			Suitable:      suitable,
			Reason:        reason,
			Score:         core.Score(a),
		}
		for _, f := range a.QueueFamilies {
			info.QueueFamilies = append(info.QueueFamilies, queueFamilyInfo{
				Index:    f.Index,
				Count:    f.Count,
				Supports: queueSupports(f),
			})
		}
		if extensions {
			info.Extensions = a.Extensions
		}
		infos = append(infos, info)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Suitable != infos[j].Suitable {
			return infos[i].Suitable
		}
		return infos[i].Score > infos[j].Score
	})
	return infos
}

func write(w io.Writer, infos []adapterInfo, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return errors.Wrap(enc.Encode(infos), "encode adapters")
}

func main() {
	var (
		useHeadless = flag.Bool("headless", false, "list the software driver adapters")
		validation  = flag.Bool("validation", false, "enable the Vulkan validation layer")
		extensions  = flag.Bool("extensions", false, "include device extensions")
		indent      = flag.Bool("indent", true, "indent the JSON output")
	)
	flag.Parse()

	var (
		drv device.Driver
		err error
	)
	if *useHeadless {
		drv = headless.New(headless.DefaultOptions())
	} else {
		drv, err = vkdevice.New(vkdevice.Options{
			ApplicationName: "vkloopcli",
			Validation:      *validation,
		})
		if err != nil {
			log.WithError(err).Error("could not create a Vulkan instance")
			os.Exit(1)
		}
	}
	defer drv.Destroy()

	// there is no surface, presentation cannot be checked
	adapters, err := drv.Adapters(device.NullHandle)
	if err != nil {
		log.WithError(err).Error("could not enumerate adapters")
		os.Exit(1)
	}
	req := core.DefaultRequirements()
	req.Present = false

	if err := write(os.Stdout, describe(adapters, req, *extensions), *indent); err != nil {
		log.WithError(err).Error("could not write adapters")
		os.Exit(1)
	}
}
