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


// Package fft provides two-dimensional complex transforms on padded image planes
package fft

import (
	"math/cmplx"
	"runtime"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Returns the smallest size m>=n whose only prime factors are 2, 3 and 5
func OptimalSize(n int) int {
	if n<=1 { return 1 }
	for m:=n; ; m++ {
		r:=m
		for _, f:=range []int{2, 3, 5} {
			for r%f==0 { r/=f }
		}
		if r==1 { return m }
	}
}

// A complex-valued plane in row-major order
type Plane struct {
	Width  int
	Height int
	Data   []complex128
}

// Creates a new zero-filled plane
func NewPlane(width, height int) *Plane {
	return &Plane{Width: width, Height: height, Data: make([]complex128, width*height)}
}

// Forward transform in place
func (p *Plane) Forward() { p.transform(true) }

// Inverse transform in place. Unnormalized, callers divide by Width*Height
func (p *Plane) Inverse() { p.transform(false) }

// Multiplies all values by a real factor
func (p *Plane) Scale(f float64) {
	cf:=complex(f, 0)
	for i:=range p.Data {
		p.Data[i]*=cf
	}
}

// Returns the real parts of the rectangle of given size at offset ox, oy
func (p *Plane) Real(width, height, ox, oy int) []float64 {
	res:=make([]float64, width*height)
	for y:=0; y<height; y++ {
		row:=p.Data[(y+oy)*p.Width+ox:]
		for x:=0; x<width; x++ {
			res[y*width+x]=real(row[x])
		}
	}
	return res
}

// Returns the magnitudes of the rectangle of given size at offset ox, oy
func (p *Plane) Abs(width, height, ox, oy int) []float64 {
	res:=make([]float64, width*height)
	for y:=0; y<height; y++ {
		row:=p.Data[(y+oy)*p.Width+ox:]
		for x:=0; x<width; x++ {
			res[y*width+x]=cmplx.Abs(row[x])
		}
	}
	return res
}

// Transforms rows, then columns. Each worker owns its own fourier.CmplxFFT, as these carry scratch state
func (p *Plane) transform(forward bool) {
	w, h:=p.Width, p.Height
	threads:=runtime.GOMAXPROCS(0)

	// rows
	parallel(h, threads, func(lower, upper int) {
		rowFFT:=fourier.NewCmplxFFT(w)
		for y:=lower; y<upper; y++ {
			row:=p.Data[y*w:(y+1)*w]
			if forward {
				rowFFT.Coefficients(row, row)
			} else {
				rowFFT.Sequence(row, row)
			}
		}
	})

	// columns
	parallel(w, threads, func(lower, upper int) {
		colFFT:=fourier.NewCmplxFFT(h)
		col:=make([]complex128, h)
		for x:=lower; x<upper; x++ {
			for y:=0; y<h; y++ {
				col[y]=p.Data[y*w+x]
			}
			if forward {
				colFFT.Coefficients(col, col)
			} else {
				colFFT.Sequence(col, col)
			}
			for y:=0; y<h; y++ {
				p.Data[y*w+x]=col[y]
			}
		}
	})
}

// Runs f over batches of [0,n) with at most threads goroutines
func parallel(n, threads int, f func(lower, upper int)) {
	if threads<1 { threads=1 }
	batchSize:=(n+threads-1)/threads
	if batchSize<16 { batchSize=16 }
	sem:=make(chan bool, threads)
	for lower:=0; lower<n; lower+=batchSize {
		upper:=lower+batchSize
		if upper>n { upper=n }

		sem <- true
		go func(lower, upper int) {
			defer func() { <-sem }()
			f(lower, upper)
		}(lower, upper)
	}
	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
}
