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

package greyc

import (
	"math"
)

// Returns the definite integral of the gaussian function with midpoint mu and standard deviation sigma for input x
func GaussianDefiniteIntegral(mu, sigma, x float64) float64 {
	return 0.5 * (1 + math.Erf((x-mu)/(math.Sqrt2*sigma)))
}

// Generates a normalized 1D gaussian kernel for the given sigma via symbolic integration of each pixel.
// The kernel is truncated where less than 1% of the area lies outside. Sigmas below 0.1 yield the identity
func GaussianKernel1D(sigma float64) []float64 {
	if !(sigma>=0.1) { return []float64{1} }

	// find minimal radius for which the area left of the kernel is below the acceptable error
	acceptOut:=0.01
	radius:=0
	for GaussianDefiniteIntegral(0, sigma, -0.5-float64(radius))>=acceptOut {
		radius++
	}
	if radius>0 { radius-- }
	kernel:=make([]float64, 2*radius+1)

	// integrate left half and center, then mirror
	sum:=0.0
	lower:=GaussianDefiniteIntegral(0, sigma, -0.5-float64(radius))
	for i:=0; i<=radius; i++ {
		upper:=GaussianDefiniteIntegral(0, sigma, -0.5-float64(radius)+float64(i+1))
		kernel[i]=upper-lower
		sum+=kernel[i]
		lower=upper
	}
	for i:=1; i<=radius; i++ {
		kernel[radius+i]=kernel[radius-i]
		sum+=kernel[radius+i]
	}

	factor:=1.0/sum
	for i:=range kernel { kernel[i]*=factor }
	return kernel
}

// Clamps a coordinate into [0, size-1], mirroring out of bounds coordinates at the border
func reflect(size, x int) int {
	if x<0     { x=-x-1 }
	if x>=size { x=2*size-x-1 }
	if x<0     { return 0 }
	return x
}

// Convolves the 2D image given by data and width with kernel along the x axis, storing the result in res
func Convolve1DX(res, data []float64, width int, kernel []float64) {
	height:=len(data)/width
	k:=len(kernel)/2
	for y:=0; y<height; y++ {
		row:=data[y*width:(y+1)*width]
		for x:=0; x<width; x++ {
			sum:=0.0
			for i:=-k; i<=k; i++ {
				sum+=row[reflect(width, x+i)]*kernel[i+k]
			}
			res[y*width+x]=sum
		}
	}
}

// Convolves the 2D image given by data and width with kernel along the y axis, storing the result in res
func Convolve1DY(res, data []float64, width int, kernel []float64) {
	height:=len(data)/width
	k:=len(kernel)/2
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			sum:=0.0
			for i:=-k; i<=k; i++ {
				sum+=data[reflect(height, y+i)*width+x]*kernel[i+k]
			}
			res[y*width+x]=sum
		}
	}
}

// Applies a separable gauss filter of the given standard deviation to data, in place. Overwrites tmp
func GaussFilter2D(data, tmp []float64, width int, sigma float64) {
	kernel:=GaussianKernel1D(sigma)
	if len(kernel)==1 { return }
	Convolve1DX(tmp, data, width, kernel)
	Convolve1DY(data, tmp, width, kernel)
}
