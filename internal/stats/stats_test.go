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
	"testing"
	"github.com/valyala/fastrand"
)

func gaussianNoise(rng *fastrand.RNG, n int, mu, sigma float64) []float64 {
	data:=make([]float64, n)
	for i:=range data {
		// Box-Muller
		u1:=(float64(rng.Uint32n(1<<24))+1)/float64(1<<24)
		u2:=float64(rng.Uint32n(1<<24))/float64(1<<24)
		data[i]=mu+sigma*math.Sqrt(-2*math.Log(u1))*math.Cos(2*math.Pi*u2)
	}
	return data
}

func TestCalcBasic(t *testing.T) {
	s:=CalcBasic([]float64{1, 2, 3, 4})
	if s.Min!=1 || s.Max!=4 || s.Mean!=2.5 {
		t.Errorf("got %s", s)
	}
	if math.Abs(s.StdDev-math.Sqrt(1.25))>1e-12 {
		t.Errorf("stddev %g expect %g", s.StdDev, math.Sqrt(1.25))
	}
}

func TestMedianMAD(t *testing.T) {
	data:=[]float64{1, 2, 3, 4, 100}
	median, mad:=MedianMAD(data)
	if median!=3 {
		t.Errorf("median %g expect 3", median)
	}
	if math.Abs(mad-1.4826)>1e-9 {
		t.Errorf("mad %g expect 1.4826", mad)
	}
	if data[4]!=100 {
		t.Errorf("input reordered")
	}
}

func TestSigmaClippedMedianIgnoresOutliers(t *testing.T) {
	rng:=fastrand.RNG{}
	data:=gaussianNoise(&rng, 10000, 0.1, 0.01)
	for i:=0; i<200; i++ {
		data[i*50]=1
	}
	loc, scale:=SigmaClippedMedianAndMAD(data, 2, 2)
	if math.Abs(loc-0.1)>0.002 {
		t.Errorf("location %g expect 0.1", loc)
	}
	if math.Abs(scale-0.01)>0.002 {
		t.Errorf("scale %g expect 0.01", scale)
	}
}

func TestEstimateNoise(t *testing.T) {
	rng:=fastrand.RNG{}
	const width=128
	data:=gaussianNoise(&rng, width*width, 0.5, 0.02)
	noise:=EstimateNoise(data, width)
	if math.Abs(noise-0.02)>0.002 {
		t.Errorf("noise %g expect 0.02", noise)
	}
	flat:=make([]float64, width*width)
	if n:=EstimateNoise(flat, width); n!=0 {
		t.Errorf("flat image noise %g expect 0", n)
	}
}

func TestHistogramScaleLoc(t *testing.T) {
	rng:=fastrand.RNG{}
	data:=gaussianNoise(&rng, 50000, 0.3, 0.02)
	loc, scale:=HistogramScaleLoc(data, 0, 1, 1024)
	if math.Abs(loc-0.3)>0.005 {
		t.Errorf("location %g expect 0.3", loc)
	}
	if math.Abs(scale-0.02)>0.005 {
		t.Errorf("scale %g expect 0.02", scale)
	}
}
