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


// Package psf synthesizes point spread function kernels for deconvolution
package psf

import (
	"fmt"
	"math"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// Values of a parametric kernel are cut off where they drop below this fraction of the peak
const EnergyThreshold=0.01

// A convolution kernel with one or more channels of Width*Height row-major values
type Kernel struct {
	Width    int
	Height   int
	Channels int
	Data     [][]float64
}

// Creates a zero-filled kernel
func NewKernel(width, height, channels int) *Kernel {
	data:=make([][]float64, channels)
	for c:=range data {
		data[c]=make([]float64, width*height)
	}
	return &Kernel{Width: width, Height: height, Channels: channels, Data: data}
}

// Sum of all values of channel c
func (k *Kernel) Sum(c int) float64 {
	sum:=0.0
	for _, v:=range k.Data[c] {
		sum+=v
	}
	return sum
}

// Returns the data for the given image channel. Single-channel kernels serve all image channels
func (k *Kernel) ChannelFor(c int) []float64 {
	if c>=k.Channels { return k.Data[0] }
	return k.Data[c]
}

// Returns a deep copy of the kernel
func (k *Kernel) Clone() *Kernel {
	res:=&Kernel{Width: k.Width, Height: k.Height, Channels: k.Channels, Data: make([][]float64, k.Channels)}
	for c, d:=range k.Data {
		res.Data[c]=append([]float64(nil), d...)
	}
	return res
}

// Checks whether a kernel sum is numerically zero in the precision used for the given sample kind
func IsEmptySum(sum float64, kind sample.Kind) bool {
	if kind.Epsilon()>=float64(math.Nextafter32(1, 2)-1) {
		return float32(1)+float32(sum)==float32(1)
	}
	return 1+sum==1
}

// Scales each channel so its values sum to one. Fails with ErrEmptyKernel if a
// channel sums to zero in the precision of the given sample kind. The kernel is unchanged on failure
func (k *Kernel) Normalize(kind sample.Kind) error {
	sums:=make([]float64, k.Channels)
	for c:=range sums {
		sums[c]=k.Sum(c)
		if IsEmptySum(sums[c], kind) || math.IsNaN(sums[c]) {
			return fmt.Errorf("%w: channel %d sums to %g", sample.ErrEmptyKernel, c, sums[c])
		}
	}
	for c, d:=range k.Data {
		f:=1/sums[c]
		for i:=range d {
			d[i]*=f
		}
	}
	return nil
}

// Checks the kernel is no larger than the target image
func (k *Kernel) FitsIn(width, height int) error {
	if k.Width>width || k.Height>height {
		return fmt.Errorf("%w: kernel %dx%d larger than image %dx%d", sample.ErrGeometry, k.Width, k.Height, width, height)
	}
	return nil
}

func (k *Kernel) String() string {
	return fmt.Sprintf("%dx%d kernel with %d channel(s)", k.Width, k.Height, k.Channels)
}


// Builds a generalized elliptical Gaussian kernel. Shape 2 is a Gaussian, smaller values are more peaked,
// larger ones flatter. The aspect ratio in (0,1] scales the minor axis, which is rotated
// counterclockwise by angleDeg from the horizontal
func Parametric(sigma, shape, aspectRatio, angleDeg float64) (*Kernel, error) {
	if !(sigma>0) {
		return nil, fmt.Errorf("%w: sigma %g must be positive", sample.ErrConfiguration, sigma)
	}
	if !(shape>0) {
		return nil, fmt.Errorf("%w: shape %g must be positive", sample.ErrConfiguration, shape)
	}
	if !(aspectRatio>0 && aspectRatio<=1) {
		return nil, fmt.Errorf("%w: aspect ratio %g must be in (0,1]", sample.ErrConfiguration, aspectRatio)
	}

	// radius where exp(-r^k/(k sigma^k)) drops to the threshold, along the major axis
	radius:=sigma*math.Pow(shape*math.Log(1/EnergyThreshold), 1/shape)
	half:=int(math.Ceil(radius))
	if half<1 { half=1 }
	size:=2*half+1

	k:=NewKernel(size, size, 1)
	theta:=angleDeg*math.Pi/180
	sinT, cosT:=math.Sincos(theta)
	norm:=shape*math.Pow(sigma, shape)
	data:=k.Data[0]
	for y:=0; y<size; y++ {
		dy:=float64(half-y) // image rows grow downwards, angles counterclockwise
		for x:=0; x<size; x++ {
			dx:=float64(x-half)
			xr:= dx*cosT+dy*sinT
			yr:=(-dx*sinT+dy*cosT)/aspectRatio
			r :=math.Sqrt(xr*xr+yr*yr)
			data[y*size+x]=math.Exp(-math.Pow(r, shape)/norm)
		}
	}
	return k, nil
}

// Builds a linear motion blur kernel of given length in pixels, rotated counterclockwise by angleDeg
func Motion(length, angleDeg float64) (*Kernel, error) {
	if !(length>0) {
		return nil, fmt.Errorf("%w: motion length %g must be positive", sample.ErrConfiguration, length)
	}
	theta:=angleDeg*math.Pi/180
	sinT, cosT:=math.Sincos(theta)
	width :=int(math.Round(length*math.Abs(cosT)))
	height:=int(math.Round(length*math.Abs(sinT)))
	if width <3 { width =3 }
	if height<3 { height=3 }

	k:=NewKernel(width, height, 1)
	data:=k.Data[0]
	cx, cy:=0.5*float64(width-1), 0.5*float64(height-1)

	// rasterize the line through the center with sub-pixel steps
	steps:=int(math.Ceil(length*4))
	if steps<1 { steps=1 }
	for i:=0; i<=steps; i++ {
		t:=length*(float64(i)/float64(steps)-0.5)
		x:=int(math.Round(cx+t*cosT))
		y:=int(math.Round(cy-t*sinT))
		if x<0 { x=0 } else if x>=width  { x=width-1 }
		if y<0 { y=0 } else if y>=height { y=height-1 }
		data[y*width+x]++
	}
	return k, nil
}


// Host lookup of images by identifier, used for external kernels
type Library interface {
	Lookup(id string) (sample.Image, bool)
}

// A map-backed Library
type MapLibrary map[string]sample.Image

func (m MapLibrary) Lookup(id string) (sample.Image, bool) {
	img, ok:=m[id]
	return img, ok
}

// Builds a kernel from a grayscale image in the library
func External(lib Library, id string) (*Kernel, error) {
	if id=="" {
		return nil, fmt.Errorf("%w: no external PSF image specified", sample.ErrConfiguration)
	}
	var img sample.Image
	ok:=false
	if lib!=nil { img, ok=lib.Lookup(id) }
	if !ok || img==nil {
		return nil, fmt.Errorf("%w: external PSF image %q not found", sample.ErrConfiguration, id)
	}
	if err:=sample.CheckReal(img); err!=nil {
		return nil, fmt.Errorf("%w: external PSF image %q: %v", sample.ErrConfiguration, id, err)
	}
	if img.NumNominal()!=1 {
		return nil, fmt.Errorf("%w: external PSF image %q is a color image", sample.ErrConfiguration, id)
	}
	w, h:=img.Dims()
	return &Kernel{Width: w, Height: h, Channels: 1, Data: [][]float64{img.Channel64(0)}}, nil
}
