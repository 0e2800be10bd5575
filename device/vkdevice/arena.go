// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkdevice

import (
	"sync"

	"github.com/devblok/vkloop/device"
)

// arena maps device handles to native objects. Handles are never
// reused during the lifetime of a driver.
type arena struct {
	mu      sync.RWMutex
	next    device.Handle
	objects map[device.Handle]interface{}
}

func newArena() *arena {
	return &arena{objects: make(map[device.Handle]interface{})}
}

func (a *arena) put(o interface{}) device.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.objects[a.next] = o
	return a.next
}

func (a *arena) get(h device.Handle) (interface{}, bool) {
	a.mu.RLock()
	o, ok := a.objects[h]
	a.mu.RUnlock()
	return o, ok
}

// take removes h and returns what it referred to.
func (a *arena) take(h device.Handle) (interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.objects[h]
	if ok {
		delete(a.objects, h)
	}
	return o, ok
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}
