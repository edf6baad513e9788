// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package mempool pools the scratch buffers used while encoding packets.
package mempool

import (
	"bytes"
	"sync"
)

// MaxRetained is the largest buffer capacity which is returned to the default
// pool. No MQTT-SN packet is longer than 65535 bytes.
const MaxRetained = 65535

var bufPool = New(MaxRetained)

// GetBuffer takes a Buffer from the default buffer pool.
func GetBuffer() *bytes.Buffer { return bufPool.Get() }

// PutBuffer returns Buffer to the default buffer pool.
func PutBuffer(x *bytes.Buffer) { bufPool.Put(x) }

// Pool is a pool of byte buffers. Buffers which have grown beyond max are
// dropped rather than retained. A max <= 0 retains every buffer.
type Pool struct {
	pool sync.Pool
	max  int
}

// New returns a new buffer pool.
func New(max int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
		max: max,
	}
}

// Get a Buffer from the pool.
func (p *Pool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets the Buffer and returns it to the pool, unless it has grown
// past the retention limit.
func (p *Pool) Put(x *bytes.Buffer) {
	if p.max > 0 && x.Cap() > p.max {
		return
	}

	x.Reset()
	p.pool.Put(x)
}
