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


package median

import (
	"math"
	"github.com/mlnoga/nightrestore/internal/qsort"
)

// Applies a 3x3 median filter to data, a 2D array with the given line width, and stores the results in output.
// Neighbours outside the image replicate the nearest edge pixel, so hot pixels on the border are removed as well
func MedianFilter3x3(output, data []float64, width int) {
	height:=len(data)/width
	if width<3 || height<3 {
		for y:=0; y<height; y++ {
			for x:=0; x<width; x++ { output[y*width+x]=clampedMedian3x3(data, width, height, x, y) }
		}
		return
	}
	for y:=0; y<height; y++ {
		if y==0 || y==height-1 {
			for x:=0; x<width; x++ { output[y*width+x]=clampedMedian3x3(data, width, height, x, y) }
			continue
		}
		start, end:=(y-1)*width, (y+2)*width
		medianFilterLine3x3(output[start:end], data[start:end], width)
		output[y*width]        =clampedMedian3x3(data, width, height, 0, y)
		output[(y+1)*width-1]  =clampedMedian3x3(data, width, height, width-1, y)
	}
}

// Median of the 3x3 neighbourhood of x,y with coordinates clamped to the image
func clampedMedian3x3(data []float64, width, height, x, y int) float64 {
	var gathered [9]float64
	n:=0
	for dy:=-1; dy<=1; dy++ {
		yy:=min(max(y+dy, 0), height-1)
		for dx:=-1; dx<=1; dx++ {
			xx:=min(max(x+dx, 0), width-1)
			gathered[n]=data[yy*width+xx]
			n++
		}
	}
	return MedianFloat64Slice9(gathered[:])
}

// Input data is three lines of given width. Filters the inner pixels of the middle row into
// the middle row of output, which has the same shape as the input
func medianFilterLine3x3(output, data []float64, width int) {
	var gathered [9]float64
	for i:=width+1; i<2*width-1; i++ {
		for r:=0; r<3; r++ {
			copy(gathered[3*r:3*r+3], data[i-width-1+r*width:])
		}
		output[i]=MedianFloat64Slice9(gathered[:])
	}
}


type netOp uint8

const (
	exchange netOp=iota // order a[i]<=a[j]
	keepMax             // a[j]=max(a[i],a[j])
	keepMin             // a[i]=min(a[i],a[j])
)

type netStep struct {
	i, j int
	op   netOp
}

// Optimal median-of-nine network, 19 steps. See
// https://stackoverflow.com/questions/45453537/optimal-9-element-sorting-network-that-reduces-to-an-optimal-median-of-9-network
var median9Network=[...]netStep{
	{0, 1, exchange}, {3, 4, exchange}, {6, 7, exchange},
	{1, 2, exchange}, {4, 5, exchange}, {7, 8, exchange},
	{0, 1, exchange}, {3, 4, exchange}, {6, 7, exchange},
	{0, 3, keepMax}, {3, 6, keepMax}, {1, 4, exchange},
	{4, 7, keepMin}, {1, 4, keepMax}, {5, 8, keepMin},
	{2, 5, keepMin}, {2, 4, exchange}, {4, 6, keepMin},
	{2, 4, keepMax},
}

// Calculates the median of a float64 slice of length nine.
// Modifies the elements in place. Array must not contain IEEE NaN
func MedianFloat64Slice9(a []float64) float64 {
	a=a[:9]
	for _, s:=range median9Network {
		if a[s.i]<=a[s.j] { continue }
		switch s.op {
		case exchange: a[s.i], a[s.j]=a[s.j], a[s.i]
		case keepMax:  a[s.j]=a[s.i]
		case keepMin:  a[s.i]=a[s.j]
		}
	}
	return a[4]
}

// Calculates the median of a float64 slice
// Modifies the elements in place
// Array must not contain IEEE NaN
func MedianFloat64(a []float64) float64 {
	if len(a)==0 { return math.NaN() }
	if len(a)==9 { return MedianFloat64Slice9(a) }
	return qsort.QSelectMedianFloat64(a)
}

// Gathers the values at the given mask offsets around index into buffer, and returns their median.
// Offsets outside the data are skipped
func GatherAndMedian(data []float64, index int, mask []int, buffer []float64) float64 {
	num:=0
	for _, o:=range mask {
		i:=index+o
		if i>=0 && i<len(data) {
			buffer[num]=data[i]
			num++
		}
	}
	return MedianFloat64(buffer[:num])
}
