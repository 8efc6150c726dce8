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


package fft

import "math"

func mod(i, n int) int {
	r:=i%n
	if r<0 { r+=n }
	return r
}

// Reflects an index into [0,n) without repeating edge pixels: ... 2 1 0 1 2 3 4 3 2 1 0 1 ...
func ReflectIndex(i, n int) int {
	if n<=1 { return 0 }
	period:=2*n-2
	i=mod(i, period)
	if i>=n { i=period-i }
	return i
}

// Source taps of one padded position: a mix of samples a and b with weight wt on b
type padTap struct {
	a, b int
	wt   float64
}

// Maps each of the padded positions to source samples. Inside [offset, offset+n) the source is
// copied. Pad positions mirror the nearer edge, and cross-fade from the mirror of the trailing
// edge to the mirror of the leading edge across the middle half of the pad, so the padded
// signal has no seam where the plane wraps around
func padTaps(padded, n, offset int) []padTap {
	taps:=make([]padTap, padded)
	pad:=padded-n
	for i:=range taps {
		rel:=i-offset
		if rel>=0 && rel<n {
			taps[i]=padTap{rel, rel, 0}
			continue
		}
		d:=mod(rel-n, padded)  // distance past the trailing edge
		e:=pad-1-d             // distance before the leading edge
		t:=(float64(d)+0.5)/float64(pad)
		wt:=0.0
		if t>=0.75 {
			wt=1
		} else if t>0.25 {
			wt=0.5-0.5*math.Cos(2*math.Pi*(t-0.25))
		}
		taps[i]=padTap{ReflectIndex(n+d, n), ReflectIndex(-e-1, n), wt}
	}
	return taps
}

// Fills dst with the w*h source image placed at offset ox, oy. The pad mirrors the image at
// its nearer edge and blends smoothly between opposite edges, so the plane is seamless when
// treated as periodic
func MirrorPad(dst *Plane, src []float64, w, h, ox, oy int) {
	xs:=padTaps(dst.Width, w, ox)
	ys:=padTaps(dst.Height, h, oy)
	pw:=dst.Width
	for r:=0; r<h; r++ {
		srow:=src[r*w:(r+1)*w]
		drow:=dst.Data[(oy+r)*pw:(oy+r+1)*pw]
		for x, t:=range xs {
			drow[x]=complex((1-t.wt)*srow[t.a]+t.wt*srow[t.b], 0)
		}
	}
	for y, t:=range ys {
		if y>=oy && y<oy+h { continue }
		ra:=dst.Data[(oy+t.a)*pw:(oy+t.a+1)*pw]
		rb:=dst.Data[(oy+t.b)*pw:(oy+t.b+1)*pw]
		drow:=dst.Data[y*pw:(y+1)*pw]
		for x:=range drow {
			drow[x]=complex((1-t.wt)*real(ra[x])+t.wt*real(rb[x]), 0)
		}
	}
}

// Places a kw*kh kernel into dst with its center pixel at the origin, wrapping around
// the plane edges, and multiplied by scale. All other values are cleared
func PlaceKernel(dst *Plane, kernel []float64, kw, kh int, scale float64) {
	for i:=range dst.Data {
		dst.Data[i]=0
	}
	cx, cy:=kw/2, kh/2
	for y:=0; y<kh; y++ {
		dy:=mod(y-cy, dst.Height)
		for x:=0; x<kw; x++ {
			dx:=mod(x-cx, dst.Width)
			dst.Data[dy*dst.Width+dx]+=complex(kernel[y*kw+x]*scale, 0)
		}
	}
}

// Returns the padded plane size and image offset for filtering a w*h image with a kw*kh kernel
func PaddedGeometry(w, h, kw, kh int) (pw, ph, ox, oy int) {
	return OptimalSize(w+2*kw), OptimalSize(h+2*kh), kw/2, kh/2
}

// Convolves a w*h image with a kw*kh kernel via FFT. Returns a result of the same size as the image,
// with reflect padding at the edges
func Convolve(src []float64, w, h int, kernel []float64, kw, kh int) []float64 {
	pw, ph, ox, oy:=PaddedGeometry(w, h, kw, kh)
	img:=NewPlane(pw, ph)
	MirrorPad(img, src, w, h, ox, oy)
	ker:=NewPlane(pw, ph)
	PlaceKernel(ker, kernel, kw, kh, 1)
	img.Forward()
	ker.Forward()
	for i, k:=range ker.Data {
		img.Data[i]*=k
	}
	img.Inverse()
	img.Scale(1/float64(pw*ph))
	return img.Real(w, h, ox, oy)
}
