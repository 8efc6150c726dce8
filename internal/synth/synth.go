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


// Package synth renders synthetic star fields for tests and demonstrations
package synth

import (
	"math"
	"github.com/valyala/fastrand"
)

// A synthetic point source. Beta of zero renders a Gaussian profile, positive values a Moffat profile
type Source struct {
	X, Y     float64  // Centroid in pixels
	A        float64  // Amplitude above background
	Sx, Sy   float64  // Sigmas along the rotated axes
	ThetaDeg float64  // Rotation of the x axis towards +y (image rows), in degrees
	Beta     float64  // Moffat exponent, 0 for Gaussian
}

// Evaluates the source profile at pixel x, y, without background
func (s *Source) At(x, y float64) float64 {
	sinT, cosT:=math.Sincos(s.ThetaDeg*math.Pi/180)
	dx, dy:=x-s.X, y-s.Y
	X:= dx*cosT+dy*sinT
	Y:=-dx*sinT+dy*cosT
	if s.Beta>0 {
		q:=X*X/(s.Sx*s.Sx)+Y*Y/(s.Sy*s.Sy)
		return s.A*math.Pow(1+q, -s.Beta)
	}
	q:=X*X/(2*s.Sx*s.Sx)+Y*Y/(2*s.Sy*s.Sy)
	return s.A*math.Exp(-q)
}

// Renders the sources onto a constant background. Each source is evaluated within a box of
// eight sigmas around its centroid
func Render(width, height int, background float64, sources []Source) []float64 {
	data:=make([]float64, width*height)
	for i:=range data {
		data[i]=background
	}
	for _, s:=range sources {
		r:=int(math.Ceil(8*math.Max(s.Sx, s.Sy)))
		if s.Beta>0 { r*=2 }
		x0, x1:=int(s.X)-r, int(s.X)+r
		y0, y1:=int(s.Y)-r, int(s.Y)+r
		if x0<0 { x0=0 }
		if y0<0 { y0=0 }
		if x1>=width  { x1=width-1 }
		if y1>=height { y1=height-1 }
		for y:=y0; y<=y1; y++ {
			for x:=x0; x<=x1; x++ {
				data[y*width+x]+=s.At(float64(x), float64(y))
			}
		}
	}
	return data
}

// Returns a pseudo-random value uniformly distributed in [0,1)
func Uniform(rng *fastrand.RNG) float64 {
	return float64(rng.Uint32n(1<<30))/float64(1<<30)
}

// Returns a pseudo-random value with standard normal distribution, via Box-Muller
func Normal(rng *fastrand.RNG) float64 {
	u1:=(float64(rng.Uint32n(1<<30))+1)/float64(1<<30)
	u2:=Uniform(rng)
	return math.Sqrt(-2*math.Log(u1))*math.Cos(2*math.Pi*u2)
}

// Adds gaussian noise of given standard deviation
func AddNoise(data []float64, sigma float64, rng *fastrand.RNG) {
	for i:=range data {
		data[i]+=sigma*Normal(rng)
	}
}

// Parameters of a random star field
type FieldParams struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Stars         int     `json:"stars"`
	Background    float64 `json:"background"`
	Noise         float64 `json:"noise"`
	MinAmplitude  float64 `json:"minAmplitude"`
	MaxAmplitude  float64 `json:"maxAmplitude"`
	Sigma         float64 `json:"sigma"`    // mean star sigma
	Margin        int     `json:"margin"`   // minimum distance of centroids from the border
	Seed          uint32  `json:"seed"`
}

// Returns sensible defaults for a field of the given size
func DefaultFieldParams(width, height int) FieldParams {
	return FieldParams{
		Width: width, Height: height, Stars: width*height/4096+1,
		Background: 0.05, Noise: 0.002, MinAmplitude: 0.1, MaxAmplitude: 0.8,
		Sigma: 1.8, Margin: 12, Seed: 1,
	}
}

// Renders a random field of slightly elliptical Gaussian stars. Returns the data and the sources
func Field(p FieldParams) ([]float64, []Source) {
	rng:=fastrand.RNG{}
	rng.Seed(p.Seed)
	sources:=make([]Source, p.Stars)
	spanX:=p.Width -2*p.Margin
	spanY:=p.Height-2*p.Margin
	if spanX<1 { spanX=1 }
	if spanY<1 { spanY=1 }
	for i:=range sources {
		sx:=p.Sigma*(0.9+0.2*Uniform(&rng))
		sources[i]=Source{
			X:        float64(p.Margin)+Uniform(&rng)*float64(spanX),
			Y:        float64(p.Margin)+Uniform(&rng)*float64(spanY),
			A:        p.MinAmplitude+Uniform(&rng)*(p.MaxAmplitude-p.MinAmplitude),
			Sx:       sx,
			Sy:       sx*(0.8+0.2*Uniform(&rng)),
			ThetaDeg: 180*Uniform(&rng),
		}
	}
	data:=Render(p.Width, p.Height, p.Background, sources)
	if p.Noise>0 { AddNoise(data, p.Noise, &rng) }
	return data, sources
}
