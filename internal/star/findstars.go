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


package star

import (
	"io"
	"fmt"
	"math"
	"github.com/valyala/fastrand"
	"github.com/mlnoga/nightrestore/internal/median"
	"github.com/mlnoga/nightrestore/internal/stats"
)

// A star, as found on an image by star detection
type Star struct {
	Index int           // Index of the star in the data array. int(x)+width*int(y)
	Value float64       // Value of the star in the data array. data[index]
	X     float64       // Precise star x position via center of mass
	Y     float64       // Precise star y position via center of mass
	Mass  float64       // Star mass. Summed pixel values above location estimate, within given radius
	HFR   float64       // Half-Flux Radius of the star, in pixels
	Rect  Rect          // Sampling rectangle for PSF fitting
	PSF   *PSFData      // Fitted PSF, nil if not fitted
}

// Parameters for star detection
type DetectParams struct {
	Radius        int     `json:"radius"`        // Star radius in pixels for overlap filtering and centroiding
	Sigma         float64 `json:"sigma"`         // Detection threshold in scale units above location
	BadPixelSigma float64 `json:"badPixelSigma"` // Reject candidates deviating from the local median by this many sigmas, 0 to skip
	InOutRatio    float64 `json:"inOutRatio"`    // Minimum ratio of brightness inside over outside the HFR
	HotPixelFilter bool   `json:"hotPixelFilter"` // Detect on a 3x3 median filtered copy of the data
	Location      float64 `json:"-"`             // Background location, estimated from the data if Scale is zero
	Scale         float64 `json:"-"`             // Background scale
}

// Returns the default detection parameters
func DefaultDetectParams() DetectParams {
	return DetectParams{Radius: 16, Sigma: 10, BadPixelSigma: 0, InOutRatio: 10, HotPixelFilter: true}
}

// Prints given array of stars as CSV
func PrintStars(w io.Writer, stars []Star) {
	fmt.Fprintln(w,"Index,Value,X,Y,Mass,HFR,Function,Status,B,A,Cx,Cy,Sx,Sy,Theta,Beta,FWHMx,FWHMy,MAD")
	for _,s :=range stars {
		fmt.Fprintf(w,"%d,%g,%g,%g,%g,%g", s.Index, s.Value, s.X, s.Y, s.Mass, s.HFR)
		if p:=s.PSF; p!=nil {
			fmt.Fprintf(w,",%s,%s,%g,%g,%g,%g,%g,%g,%g,%g,%g,%g,%g\n", p.Function, p.Status, p.B, p.A, p.C0.X, p.C0.Y,
			           p.Sx, p.Sy, p.Theta, p.Beta, p.FWHMx(), p.FWHMy(), p.MAD)
		} else {
			fmt.Fprintln(w, ",,,,,,,,,,,,,")
		}
	}
}

// Find stars in the given image plane
func FindStars(data []float64, width int, p DetectParams) (stars []Star, sumOfShifts, avgHFR float64) {
	if p.HotPixelFilter {
		filtered:=make([]float64, len(data))
		median.MedianFilter3x3(filtered, data, width)
		data=filtered
	}
	location, scale:=p.Location, p.Scale
	if scale==0 {
		location, scale=stats.SigmaClippedMedianAndMAD(data, 2, 2)
		if scale==0 { location, scale=stats.HistogramScaleLoc(data, 0, 1, 1024) }
		if scale==0 { scale=stats.EstimateNoise(data, width) }
	}
	height:=len(data)/width

	// Begin star identification based on pixels significantly above the background
	stars=findBrightPixels(data, width, location+scale*p.Sigma, p.Radius)

	// reject bad pixels which differ significantly from the local median
	if p.BadPixelSigma>0 {
		stars=rejectBadPixels(stars, data, width, p.BadPixelSigma)
	}

	// filter out faint stars overlapped by brighter ones
	QSortStarsDesc(stars)
	stars=filterOutOverlaps(stars, width, height, p.Radius)

	// move stars to centroid position
	sumOfShifts=shiftToCenterOfMass(stars, data, width, location+scale*p.Sigma*0.5, p.Radius)

	// filter out faint stars again
	QSortStarsDesc(stars)
	stars=filterOutOverlaps(stars, width, height, p.Radius)

	// remove implausible stars based on HFR and mass
	stars, avgHFR=calcAndFilterHalfFluxRadius(stars, data, width, float64(p.Radius), location, p.InOutRatio)

	// sampling rectangles for PSF fitting
	for i:=range stars {
		stars[i].Rect=RectAround(stars[i].X, stars[i].Y, stars[i].HFR, width, height)
	}

	// Return a clone of the final shortlist of stars, so the longer original object can be reclaimed
	res:=make([]Star, len(stars))
	copy(res, stars)
	return res, sumOfShifts, avgHFR
}


// Scans for pixels above the threshold. Neighbouring candidates on the same row within radius
// collapse into the brightest one, which keeps the candidate list short on large saturated blobs
func findBrightPixels(data []float64, width int, threshold float64, radius int) []Star {
	stars:=make([]Star, 0, len(data)/100)
	for i, v:=range data {
		if !(v>threshold) { continue }
		s:=Star{Index: i, Value: v, X: float64(i%width), Y: float64(i/width), Mass: v, HFR: 1}
		if n:=len(stars); n>0 && stars[n-1].Y==s.Y && stars[n-1].X>=s.X-float64(radius) {
			if stars[n-1].Value<v { stars[n-1]=s }
			continue
		}
		stars=append(stars, s)
	}
	return stars
}


// Drops candidates whose value deviates from their 3x3 median by more than sigma times the
// typical deviation, estimated from a random 1% sample of the image
func rejectBadPixels(stars []Star, data []float64, width int, sigma float64) []Star {
	mask:=CreateMask(width, 1.5)
	buffer:=make([]float64, len(mask))

	samples:=make([]float64, len(data)/100+1)
	rng:=fastrand.RNG{}
	for i:=range samples {
		index:=int(rng.Uint32n(uint32(len(data))))
		samples[i]=data[index]-median.GatherAndMedian(data, index, mask, buffer)
	}
	threshold:=stats.CalcBasic(samples).StdDev*sigma

	kept:=stars[:0]
	for _, s:=range stars {
		if math.Abs(data[s.Index]-median.GatherAndMedian(data, s.Index, mask, buffer))<threshold {
			kept=append(kept, s)
		}
	}
	return kept
}


// Returns the index offsets of all pixels within radius of the origin
func CreateMask(width int, radius float64) []int {
	mask:=[]int{}
	rad:=int(radius)
	for y:=-rad; y<=rad; y++ {
		for x:=-rad; x<=rad; x++ {
			if math.Hypot(float64(x), float64(y))<=radius+1e-8 {
				mask=append(mask, y*width+x)
			}
		}
	}
	return mask
}

// Edge length of the grid cells used for overlap checks
const overlapCell=256

// Keeps each star only if no previously kept star lies within radius. Stars must be sorted by
// descending value. Kept stars are binned into a coarse grid so each check visits 3x3 cells only
func filterOutOverlaps(stars []Star, width, height, radius int) []Star {
	cols, rows:=(width+overlapCell-1)/overlapCell, (height+overlapCell-1)/overlapCell
	cells:=make([][]int, cols*rows)
	r2:=float64(radius*radius)
	cellOf:=func(s *Star) (int, int) {
		cx, cy:=int(s.X+0.5)/overlapCell, int(s.Y+0.5)/overlapCell
		return min(max(cx, 0), cols-1), min(max(cy, 0), rows-1)
	}

	kept:=0
	next:
	for _, s:=range stars {
		cx, cy:=cellOf(&s)
		for y:=max(cy-1, 0); y<=min(cy+1, rows-1); y++ {
			for x:=max(cx-1, 0); x<=min(cx+1, cols-1); x++ {
				for _, k:=range cells[x+y*cols] {
					dx, dy:=s.X-stars[k].X, s.Y-stars[k].Y
					if dx*dx+dy*dy<=r2 { continue next }
				}
			}
		}
		stars[kept]=s
		cells[cx+cy*cols]=append(cells[cx+cy*cols], kept)
		kept++
	}
	return stars[:kept]
}

// Visits each pixel within radius of center with its offset and its value above floor,
// clamped at zero. Pixels outside the buffer count as zero
func diskSum(data []float64, width, center int, radius, floor float64, visit func(dx, dy int, v float64)) {
	rad:=int(math.Ceil(radius))
	limit:=int(math.Ceil(radius*radius))
	for dy:=-rad; dy<=rad; dy++ {
		for dx:=-rad; dx<=rad; dx++ {
			if dx*dx+dy*dy>limit { continue }
			v:=0.0
			if index:=center+dy*width+dx; index>=0 && index<len(data) {
				v=max(data[index]-floor, 0)
			}
			visit(dx, dy, v)
		}
	}
}

// Moves each star to its center of mass above the threshold, iterating until the position
// settles below 0.01 pixels or ten rounds have passed. Returns the sum of the final shifts
func shiftToCenterOfMass(stars []Star, data []float64, width int, threshold float64, radius int) (sumOfShifts float64) {
	for i:=range stars {
		s:=&stars[i]
		shift:=math.Inf(1)
		for round:=0; shift>0.01 && round<10; round++ {
			mx, my, mass:=0.0, 0.0, 0.0
			for dy:=-radius; dy<=radius; dy++ {
				for dx:=-radius; dx<=radius; dx++ {
					v:=0.0
					if index:=s.Index+dy*width+dx; index>=0 && index<len(data) { v=max(data[index]-threshold, 0) }
					mx+=float64(dx)*v
					my+=float64(dy)*v
					mass+=v
				}
			}
			if mass==0 { mass=1e-8 }
			cx, cy:=float64(s.Index%width)+mx/mass, float64(s.Index/width)+my/mass
			shift=math.Hypot(cx-s.X, cy-s.Y)
			index:=s.Index+width*int(math.Round(my/mass))+int(math.Round(mx/mass))
			value:=0.0
			if index>=0 && index<len(data) { value=data[index] }
			*s=Star{Index: index, Value: value, X: cx, Y: cy, Mass: mass}
		}
		sumOfShifts+=shift
	}
	return sumOfShifts
}

// Computes the half flux radius of each star and drops implausible candidates: those whose HFR
// exceeds the search radius, and those whose mean brightness inside the HFR is not at least
// starInOut times the mean outside. Returns the kept stars and their average HFR.
// See https://en.wikipedia.org/wiki/Half_flux_diameter
func calcAndFilterHalfFluxRadius(stars []Star, data []float64, width int, radius, location, starInOut float64) (res []Star, avgHFR float64) {
	kept:=stars[:0]
	for _, s:=range stars {
		moment, mass, pixels:=0.0, 0.0, 0
		diskSum(data, width, s.Index, radius+1e-8, location, func(dx, dy int, v float64) {
			moment+=math.Hypot(float64(dx), float64(dy))*v
			mass+=v
			pixels++
		})
		if mass==0 { mass=1e-8 }
		hfr:=moment/mass
		if hfr>radius { continue }

		innerMass, innerPixels:=0.0, 0
		diskSum(data, width, s.Index, hfr, location, func(dx, dy int, v float64) {
			innerMass+=v
			innerPixels++
		})

		// inner mean > starInOut * outer mean, cross-multiplied
		if innerMass*float64(pixels-innerPixels) <= starInOut*(mass-innerMass)*float64(innerPixels) { continue }

		s.HFR, s.Mass=hfr, mass
		kept=append(kept, s)
		avgHFR+=hfr
	}
	if len(kept)>0 { avgHFR/=float64(len(kept)) }
	return kept, avgHFR
}
