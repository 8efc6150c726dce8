// Copyright (C) 2021 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package sample

import (
	"fmt"
	"math"
)

// Sample types a buffer can hold. Fixed point types are normalized to [0,1] on access
type Sample interface {
	uint8 | uint16 | uint32 | float32 | float64
}

// A rectangular multi-channel image with one plane per channel.
// The first Nominal planes carry image content (1=gray, 3=RGB), any further planes are alpha.
type Buffer[T Sample] struct {
	Width   int    // Width in pixels
	Height  int    // Height in pixels
	Nominal int    // Number of nominal channels, 1 or 3
	Planes  [][]T  // Nominal planes followed by alpha planes, each Width*Height long, row-major
}

// Creates a new zero-filled buffer with the given number of nominal and alpha channels
func New[T Sample](width, height, nominal, alpha int) *Buffer[T] {
	planes:=make([][]T, nominal+alpha)
	for i:=range planes {
		planes[i]=make([]T, width*height)
	}
	return &Buffer[T]{Width: width, Height: height, Nominal: nominal, Planes: planes}
}

// Wraps existing planes into a buffer. Data is not copied. Checks the plane layout
func NewFromPlanes[T Sample](width, height, nominal int, planes [][]T) (*Buffer[T], error) {
	b:=&Buffer[T]{Width: width, Height: height, Nominal: nominal, Planes: planes}
	if err:=b.Validate(); err!=nil { return nil, err }
	return b, nil
}

// Checks the buffer invariants: positive dimensions, 1 or 3 nominal channels, all planes of equal size
func (b *Buffer[T]) Validate() error {
	if b.Width<=0 || b.Height<=0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrUnsupported, b.Width, b.Height)
	}
	if b.Nominal!=1 && b.Nominal!=3 {
		return fmt.Errorf("%w: %d nominal channels", ErrUnsupported, b.Nominal)
	}
	if len(b.Planes)<b.Nominal {
		return fmt.Errorf("%w: %d planes for %d nominal channels", ErrUnsupported, len(b.Planes), b.Nominal)
	}
	for i, p:=range b.Planes {
		if len(p)!=b.Width*b.Height {
			return fmt.Errorf("%w: plane %d has %d samples, want %d", ErrUnsupported, i, len(p), b.Width*b.Height)
		}
	}
	return nil
}

func (b *Buffer[T]) Dims() (width, height int) { return b.Width, b.Height }
func (b *Buffer[T]) NumNominal() int            { return b.Nominal }
func (b *Buffer[T]) NumChannels() int           { return len(b.Planes) }
func (b *Buffer[T]) NumAlpha() int              { return len(b.Planes)-b.Nominal }

// Returns the sample kind of this buffer
func (b *Buffer[T]) SampleKind() Kind {
	var zero T
	switch any(zero).(type) {
	case uint8:   return Uint8
	case uint16:  return Uint16
	case uint32:  return Uint32
	case float32: return Float32
	default:      return Float64
	}
}

// Returns a deep copy of the buffer
func (b *Buffer[T]) Clone() *Buffer[T] {
	res:=&Buffer[T]{Width: b.Width, Height: b.Height, Nominal: b.Nominal, Planes: make([][]T, len(b.Planes))}
	for i, p:=range b.Planes {
		res.Planes[i]=append([]T(nil), p...)
	}
	return res
}

// Removes the alpha planes from the buffer and returns them, for later reattachment
func (b *Buffer[T]) DetachAlpha() [][]T {
	alpha:=b.Planes[b.Nominal:]
	b.Planes=b.Planes[:b.Nominal:b.Nominal]
	return alpha
}

// Reattaches previously detached alpha planes
func (b *Buffer[T]) AttachAlpha(alpha [][]T) {
	b.Planes=append(b.Planes, alpha...)
}

// Returns channel c as float64 values. Fixed point samples are normalized to [0,1]
func (b *Buffer[T]) Channel64(c int) []float64 {
	src:=b.Planes[c]
	dst:=make([]float64, len(src))
	scale:=1.0/b.SampleKind().MaxValue()
	for i, v:=range src {
		dst[i]=float64(v)*scale
	}
	return dst
}

// Stores float64 values into channel c. Fixed point targets are rounded and clamped from [0,1]
func (b *Buffer[T]) SetChannel64(c int, src []float64) {
	dst:=b.Planes[c]
	kind:=b.SampleKind()
	if kind.IsFloat() {
		for i, v:=range src {
			dst[i]=T(v)
		}
		return
	}
	max:=kind.MaxValue()
	for i, v:=range src {
		if v<0 || math.IsNaN(v) { v=0 }
		if v>1 { v=1 }
		dst[i]=T(math.Round(v*max))
	}
}


// A complex-valued image, as produced by frequency domain tools. Accepted by the
// Image interface so engines can reject it explicitly.
type ComplexBuffer struct {
	Width   int
	Height  int
	Nominal int
	Planes  [][]complex128
}

func NewComplex(width, height, nominal int) *ComplexBuffer {
	planes:=make([][]complex128, nominal)
	for i:=range planes {
		planes[i]=make([]complex128, width*height)
	}
	return &ComplexBuffer{Width: width, Height: height, Nominal: nominal, Planes: planes}
}

func (b *ComplexBuffer) Dims() (width, height int) { return b.Width, b.Height }
func (b *ComplexBuffer) NumNominal() int            { return b.Nominal }
func (b *ComplexBuffer) NumChannels() int           { return len(b.Planes) }
func (b *ComplexBuffer) SampleKind() Kind           { return Complex128 }

// Returns the magnitude of channel c
func (b *ComplexBuffer) Channel64(c int) []float64 {
	dst:=make([]float64, len(b.Planes[c]))
	for i, v:=range b.Planes[c] {
		dst[i]=math.Hypot(real(v), imag(v))
	}
	return dst
}

// Stores real values into channel c, clearing the imaginary parts
func (b *ComplexBuffer) SetChannel64(c int, src []float64) {
	for i, v:=range src {
		b.Planes[c][i]=complex(v, 0)
	}
}

// Creates a new zero-filled buffer of the given sample kind
func NewOfKind(kind Kind, width, height, nominal, alpha int) (Image, error) {
	switch kind {
	case Uint8:   return New[uint8  ](width, height, nominal, alpha), nil
	case Uint16:  return New[uint16 ](width, height, nominal, alpha), nil
	case Uint32:  return New[uint32 ](width, height, nominal, alpha), nil
	case Float32: return New[float32](width, height, nominal, alpha), nil
	case Float64: return New[float64](width, height, nominal, alpha), nil
	}
	return nil, fmt.Errorf("%w: cannot allocate %s buffer", ErrUnsupported, kind)
}
