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
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Enumerated type for sample kinds
type Kind int
const (
	Uint8 Kind = iota
	Uint16
	Uint32
	Float32
	Float64
	Complex64
	Complex128
)

func (k Kind) String() string {
	switch k {
	case Uint8:      return "uint8"
	case Uint16:     return "uint16"
	case Uint32:     return "uint32"
	case Float32:    return "float32"
	case Float64:    return "float64"
	case Complex64:  return "complex64"
	case Complex128: return "complex128"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err:=json.Unmarshal(data, &s); err!=nil { return err }
	return k.Set(s)
}

// Parses a real sample kind name, for flags and config files
func (k *Kind) Set(s string) error {
	for c:=Uint8; c<=Float64; c++ {
		if strings.EqualFold(c.String(), s) {
			*k=c
			return nil
		}
	}
	return fmt.Errorf("%w: unknown sample kind %q", ErrConfiguration, s)
}

func (k *Kind) Type() string { return "kind" }

func (k Kind) IsFloat() bool   { return k==Float32 || k==Float64 }
func (k Kind) IsComplex() bool { return k==Complex64 || k==Complex128 }

// Bits per sample
func (k Kind) Bits() int {
	switch k {
	case Uint8:             return 8
	case Uint16:            return 16
	case Uint32, Float32:   return 32
	case Float64, Complex64: return 64
	}
	return 128
}

// Value a fixed point sample takes for 1.0. Floating point kinds return 1
func (k Kind) MaxValue() float64 {
	switch k {
	case Uint8:  return math.MaxUint8
	case Uint16: return math.MaxUint16
	case Uint32: return math.MaxUint32
	}
	return 1
}

// Machine epsilon of the precision the engines use to judge numerical zeros for this kind.
// Small integer and single precision images are judged in float32, everything else in float64
func (k Kind) Epsilon() float64 {
	switch k {
	case Uint8, Uint16, Float32: return float64(math.Nextafter32(1, 2)-1)
	}
	return math.Nextafter(1, 2)-1
}


// The view of an image buffer the engines operate on. The sample kind is resolved
// inside the implementation, so engines read and write float64 channel data only.
type Image interface {
	Dims() (width, height int)
	NumNominal() int
	NumChannels() int
	SampleKind() Kind
	Channel64(c int) []float64
	SetChannel64(c int, src []float64)
}

// Rejects images engines cannot process: complex samples, or invalid layouts
func CheckReal(img Image) error {
	if img==nil { return fmt.Errorf("%w: no image", ErrUnsupported) }
	if img.SampleKind().IsComplex() {
		return fmt.Errorf("%w: %s samples", ErrUnsupported, img.SampleKind())
	}
	w, h:=img.Dims()
	if w<=0 || h<=0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrUnsupported, w, h)
	}
	if n:=img.NumNominal(); n!=1 && n!=3 {
		return fmt.Errorf("%w: %d nominal channels", ErrUnsupported, n)
	}
	return nil
}

// Reads the nominal channels of an image into a float64 working buffer. Alpha channels are not copied
func Nominal64(img Image) *Buffer[float64] {
	w, h:=img.Dims()
	n:=img.NumNominal()
	res:=&Buffer[float64]{Width: w, Height: h, Nominal: n, Planes: make([][]float64, n)}
	for c:=0; c<n; c++ {
		res.Planes[c]=img.Channel64(c)
	}
	return res
}

// Writes the nominal channels of a float64 working buffer back into an image
func StoreNominal64(img Image, work *Buffer[float64]) {
	for c:=0; c<work.Nominal; c++ {
		img.SetChannel64(c, work.Planes[c])
	}
}

// Returns minimum and maximum across all planes, alpha included
func (b *Buffer[T]) MinMax() (min, max float64) {
	min, max=math.Inf(1), math.Inf(-1)
	for _, p:=range b.Planes {
		for _, v:=range p {
			fv:=float64(v)
			if fv<min { min=fv }
			if fv>max { max=fv }
		}
	}
	return min, max
}
