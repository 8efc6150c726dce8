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
	"math"
	"gonum.org/v1/gonum/optimize"
)

// Calculate histogram of data between min and max into given bins. Values outside the range are ignored
func Histogram(data []float64, min, max float64, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	if max<=min { 
		bins[0]=int32(len(data))
		return
	}
	scale := float64(len(bins)-1) / (max - min)
	for _, d := range data {
		index := (d - min) * scale
		if index<0 || index>float64(len(bins)-1) || math.IsNaN(index) { continue }
		bins[int(index)]++
	}
}

// Returns the location and the value of the histogram peak
func GetPeak(bins []int32, min, max float64) (x, y float64) {
	maxIndex, maxValue := 0, int32(math.MinInt32)
	for i, v := range bins {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}

	x = min + (float64(maxIndex)+0.5)*(max-min)/float64(len(bins)-1)
	if maxIndex+1<len(bins) {
		y = 0.5 * float64(bins[maxIndex]+bins[maxIndex+1])
	} else {
		y = float64(bins[maxIndex])
	}
	return x, y
}

// Calculates the mode and the standard deviation of the given histogram,
// by fitting a normal distribution with Nelder-Mead
func GetModeStdDevFromHistogram(bins []int32, min, max float64) (mode, stdDev float64, err error) {
	// Take an educated initial guess: the maximum value of the histogram
	peak, peakVal := GetPeak(bins, min, max)
	binWidth:=(max-min)/float64(len(bins)-1)

	// Now minimize the distance between the histogram and a scaled normal distribution
	x0 := []float64{peakVal*binWidth*math.Sqrt(2*math.Pi)*5, peak, 5*binWidth}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma := x[0], x[1], x[2]
			if sigma<=0 { return math.MaxFloat64 }
			scaler := alpha / (sigma * math.Sqrt(2*math.Pi))
			sumSqDiff := 0.0

			for i, y := range bins {
				x := min + (float64(i)+0.5)*binWidth
				xmusig := (x - mu) / sigma
				yPredict := scaler * math.Exp(-0.5*xmusig*xmusig)
				diff := float64(y) - yPredict
				sumSqDiff += diff * diff
			}
			return math.Sqrt(sumSqDiff / float64(len(bins)))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return -1, -1, err
	}
	return result.X[1], math.Abs(result.X[2]), nil
}

// Estimates location and scale of the background from a histogram mode fit over the given number of bins.
// Falls back to the histogram peak when the fit fails or leaves the data range
func HistogramScaleLoc(data []float64, min, max float64, numBins int) (loc, scale float64) {
	bins:=make([]int32, numBins)
	Histogram(data, min, max, bins)
	peak, _:=GetPeak(bins, min, max)
	mode, stdDev, err:=GetModeStdDevFromHistogram(bins, min, max)
	if err!=nil || mode<min || mode>max || math.IsNaN(stdDev) {
		_, mad:=MedianMAD(data)
		return peak, mad
	}
	return mode, stdDev
}
