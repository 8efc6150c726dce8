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


package stats

import (
	"fmt"
	"math"
	"gonum.org/v1/gonum/floats"
	"github.com/mlnoga/nightrestore/internal/qsort"
)

// Basic statistics on data arrays
type Basic struct {
	Min    float64  // Minimum
	Max    float64  // Maximum
	Mean   float64  // Mean (average)
	StdDev float64  // Standard deviation (norm 2, sigma)

	Location float64 // Location estimate (sigma-clipped median)
	Scale    float64 // Scale estimate (normalized MAD of the clipped data)

	Noise  float64  // Noise estimation, not calculated by default (expensive)
}

// Pretty print basic stats to string
func (s *Basic) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g Noise %.4g",
	                 	s.Min, s.Max,   s.Mean,   s.StdDev,   s.Location,   s.Scale,   s.Noise)
}

// Calculate basic statistics for a data array
func CalcBasic(data []float64) (s *Basic) {
	s=&Basic{}
	if len(data)==0 { return s }
	s.Min, s.Max=floats.Min(data), floats.Max(data)
	s.Mean=floats.Sum(data)/float64(len(data))
	s.StdDev=math.Sqrt(calcVariance(data, s.Mean))
	return s
}

// Calculates basic statistics plus location, scale and noise estimates for an image plane of given width
func CalcExtended(data []float64, width int) (s *Basic) {
	s=CalcBasic(data)
	if len(data)==0 { return s }
	s.Location, s.Scale=SigmaClippedMedianAndMAD(data, 2, 2)
	s.Noise=EstimateNoise(data, width)
	return s
}

// Calculate variance of given data from provided mean
func calcVariance(data []float64, mean float64) float64 {
	variance:=0.0
	for _,v :=range data {
		diff:=v-mean
		variance+=diff*diff
	}
	return variance/float64(len(data))
}

// Median and normalized median absolute deviation. Does not change the data
func MedianMAD(data []float64) (median, mad float64) {
	if len(data)==0 { return math.NaN(), math.NaN() }
	tmp:=append([]float64(nil), data...)
	median=qsort.QSelectMedianFloat64(tmp)
	for i, d:=range data {
		tmp[i]=math.Abs(d-median)
	}
	return median, qsort.QSelectMedianFloat64(tmp)*1.4826
}

// Returns the sigma clipped median of the data, and the normalized MAD of all data from it. Does not change the data.
func SigmaClippedMedianAndMAD(data []float64, sigmaLow, sigmaHigh float64) (median, mad float64) {
	tmp:=append([]float64(nil), data...)
	remaining:=tmp
	for {
		median=qsort.QSelectMedianFloat64(remaining) // reorders, doesnt matter

		// calculate std deviation w.r.t. median
		stdDev:=0.0
		for _,r:=range remaining {
			diff  :=r-median
			stdDev+=diff*diff
		}
		stdDev=math.Sqrt(stdDev/float64(len(remaining)))*1.134

		// reject outliers based on sigma
		lowBound :=median - sigmaLow *stdDev
		highBound:=median + sigmaHigh*stdDev
		kept :=0
		for _, r:=range remaining {
			if r>=lowBound && r<=highBound {
				remaining[kept]=r
				kept++
			}
		}
		rejected:=len(remaining)-kept
		remaining=remaining[:kept]

		// once converged, return results
		if rejected==0 || len(remaining)<=3 {
			tmp=tmp[:len(data)]
			for i, d:=range data {
				tmp[i]=math.Abs(d-median)
			}
			return median, qsort.QSelectMedianFloat64(tmp)*1.4826
		}
	}
}

// Weights for noise estimation
var enWeights = []float64{
     1, -2,  1,
    -2,  4, -2,
     1, -2,  1,
}

// Estimate the level of gaussian noise on a natural image.
// From J. Immerkær, “Fast Noise Variance Estimation”, Computer Vision and Image Understanding, Vol. 64, No. 2, pp. 300-302, Sep. 1996.
func EstimateNoise(data []float64, width int) float64 {
	height:=len(data)/width
	if width<3 || height<3 { return 0 }
	enOffsets:=[]int{
		-width-1, -width  , -width+1,
		      -1,        0,        1,
		 width-1,  width  ,  width+1,
	}

	sum:=0.0
	for y:=1; y<height-1; y++ {
		for x:=1; x<width-1; x++ {
			i:=y*width+x
			conv:=0.0
			for j,o:=range enOffsets {
				conv+=data[i+o]*enWeights[j]
			}
			sum+=math.Abs(conv)
		}
	}
	factor:=math.Sqrt(0.5*math.Pi) / (6 * float64(width-2) * float64(height-2))
	return sum*factor
}
