// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkdevice

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/devblok/vkloop/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// SliceUint32 repacks SPIR-V bytes into the words vk.ShaderModuleCreateInfo
// expects. The code length must be a multiple of four.
func SliceUint32(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, errors.Errorf("code size %d not a multiple of 4", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words, nil
}

func safeString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return fmt.Sprintf("%s\x00", s)
}

func safeStrings(sgs []string) []string {
	safe := make([]string, 0, len(sgs))
	for _, s := range sgs {
		safe = append(safe, safeString(s))
	}
	return safe
}

// missing returns the names of required that are not in available.
func missing(available, required []string) []string {
	have := make(map[string]struct{}, len(available))
	for _, name := range available {
		have[strings.TrimSuffix(name, "\x00")] = struct{}{}
	}
	var out []string
	for _, name := range required {
		if _, ok := have[strings.TrimSuffix(name, "\x00")]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// appendUnique appends names that s does not contain yet.
func appendUnique(s []string, names ...string) []string {
	for _, name := range names {
		var found bool
		for _, v := range s {
			if v == name {
				found = true
				break
			}
		}
		if !found {
			s = append(s, name)
		}
	}
	return s
}

// check turns a failed vulkan call into an error that unwraps to device.Result.
func check(ret vk.Result, call string) error {
	if ret == vk.Success {
		return nil
	}
	return errors.Wrap(device.Result(ret), call)
}
