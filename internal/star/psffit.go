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
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"github.com/mlnoga/nightrestore/internal/lm"
	"github.com/mlnoga/nightrestore/internal/qsort"
)

// A point in pixel coordinates
type Point struct {
	X, Y float64
}

// A rectangle of pixels, X1 and Y1 exclusive
type Rect struct {
	X0, Y0, X1, Y1 int
}

func (r Rect) Width() int  { return r.X1-r.X0 }
func (r Rect) Height() int { return r.Y1-r.Y0 }

// Center of the rectangle in pixel coordinates
func (r Rect) Center() Point {
	return Point{0.5*float64(r.X0+r.X1-1), 0.5*float64(r.Y0+r.Y1-1)}
}

// Returns the rectangle clipped to an image of given size
func (r Rect) Clip(width, height int) Rect {
	if r.X0<0 { r.X0=0 }
	if r.Y0<0 { r.Y0=0 }
	if r.X1>width  { r.X1=width  }
	if r.Y1>height { r.Y1=height }
	return r
}

// Returns a square sampling rectangle around x,y wide enough for a star of given half-flux radius
func RectAround(x, y, hfr float64, width, height int) Rect {
	half:=int(math.Ceil(4*hfr))
	if half<5 { half=5 }
	cx, cy:=int(math.Round(x)), int(math.Round(y))
	return Rect{cx-half, cy-half, cx+half+1, cy+half+1}.Clip(width, height)
}


// PSF model function
type Function int
const (
	Gaussian Function = iota
	Moffat
)

func (f Function) String() string {
	switch f {
	case Gaussian: return "Gaussian"
	case Moffat:   return "Moffat"
	}
	return fmt.Sprintf("Function(%d)", int(f))
}

func (f Function) MarshalJSON() ([]byte, error) { return json.Marshal(f.String()) }

func (f *Function) UnmarshalJSON(data []byte) error {
	var s string
	if err:=json.Unmarshal(data, &s); err!=nil { return err }
	return f.Set(s)
}

// Parses a function name, for flags and config files
func (f *Function) Set(s string) error {
	switch strings.ToLower(s) {
	case "gaussian": *f=Gaussian
	case "moffat":   *f=Moffat
	default:         return fmt.Errorf("unknown PSF function %q", s)
	}
	return nil
}

func (f *Function) Type() string { return "function" }

// Outcome of a PSF fit
type Status int
const (
	NotFitted Status = iota
	FittedOk
	BadParameters
	NoSolution
	NoConvergence
	InaccurateSolution
	UnknownError
)

var statusNames=[]string{"NotFitted", "FittedOk", "BadParameters", "NoSolution", "NoConvergence", "InaccurateSolution", "UnknownError"}

func (s Status) String() string {
	if s>=0 && int(s)<len(statusNames) { return statusNames[s] }
	return fmt.Sprintf("Status(%d)", int(s))
}

// Maps a solver termination code to a fit status
func statusFromInfo(info lm.Info) Status {
	switch info {
	case lm.ImproperInput:                                  return BadParameters
	case lm.FTolReached, lm.XTolReached, lm.BothTolReached: return FittedOk
	case lm.Orthogonal:                                     return NoSolution
	case lm.MaxEvalReached:                                 return NoConvergence
	case lm.FTolTooSmall, lm.XTolTooSmall, lm.GTolTooSmall: return InaccurateSolution
	}
	return UnknownError
}

// Fitted point spread function of a star
type PSFData struct {
	Function Function
	Circular bool
	Status   Status
	B        float64   // Background
	A        float64   // Amplitude above background
	C0       Point     // Centroid
	Sx, Sy   float64   // Sigma along the major and minor axes, Sy<=Sx
	Theta    float64   // Rotation of the major axis from +x towards +y, degrees in [0,180)
	Beta     float64   // Moffat exponent
	MAD      float64   // Mean absolute deviation of the fit, relative to A
}

// Conversion factor from Gaussian sigma to FWHM
var sigmaToFWHM=2*math.Sqrt(2*math.Ln2)

func (p *PSFData) fwhm(s float64) float64 {
	if p.Function==Moffat {
		return 2*s*math.Sqrt(math.Pow(2, 1/p.Beta)-1)
	}
	return sigmaToFWHM*s
}

// Full width at half maximum along the major axis
func (p *PSFData) FWHMx() float64 { return p.fwhm(p.Sx) }

// Full width at half maximum along the minor axis
func (p *PSFData) FWHMy() float64 { return p.fwhm(p.Sy) }

// Eccentricity of the PSF, 0 for circular
func (p *PSFData) Eccentricity() float64 {
	if p.Sx==0 { return 0 }
	r:=p.Sy/p.Sx
	return math.Sqrt(1-r*r)
}

func (p *PSFData) String() string {
	return fmt.Sprintf("%s %s B=%.4g A=%.4g C=(%.2f,%.2f) Sx=%.3g Sy=%.3g Theta=%.1f Beta=%.3g FWHM=%.3gx%.3g MAD=%.3g",
	                   p.Function, p.Status, p.B, p.A, p.C0.X, p.C0.Y, p.Sx, p.Sy, p.Theta, p.Beta, p.FWHMx(), p.FWHMy(), p.MAD)
}


// Samples of a patch with coordinates relative to the patch center
type patch struct {
	dx, dy []float64
	z      []float64
}

// Parameter vector layout for a model
type layout struct {
	fn       Function
	circular bool
}

func (l layout) size() int {
	n:=5
	if !l.circular { n+=2 }
	if l.fn==Moffat { n++ }
	return n
}

// Unpacks B, A, x0, y0, sx, sy, theta (radians), beta
func (l layout) unpack(x []float64) (b, a, x0, y0, sx, sy, theta, beta float64) {
	b, a, x0, y0, sx=x[0], x[1], x[2], x[3], x[4]
	sy, i:=sx, 5
	if !l.circular {
		sy, theta=x[5], x[6]
		i=7
	}
	if l.fn==Moffat { beta=x[i] }
	return
}

// Evaluates the model above background at offset dx, dy
func (l layout) eval(a, x0, y0, sx, sy, theta, beta, dx, dy float64) float64 {
	sinT, cosT:=math.Sincos(theta)
	ux, uy:=dx-x0, dy-y0
	X:= ux*cosT+uy*sinT
	Y:=-ux*sinT+uy*cosT
	if l.fn==Moffat {
		q:=X*X/(sx*sx)+Y*Y/(sy*sy)
		return a*math.Pow(1+q, -beta)
	}
	q:=X*X/(2*sx*sx)+Y*Y/(2*sy*sy)
	return a*math.Exp(-q)
}

// Mean absolute deviation of the model from the patch, relative to the amplitude
func (l layout) mad(p *patch, b, a, x0, y0, sx, sy, theta, beta float64) float64 {
	sum:=0.0
	for i, z:=range p.z {
		sum+=math.Abs(z-b-l.eval(a, x0, y0, sx, sy, theta, beta, p.dx[i], p.dy[i]))
	}
	sum/=float64(len(p.z))
	if a!=0 { sum/=a }
	return sum
}

// Fits a PSF to the samples of data within rect, starting from the given position
func FitPSF(data []float64, width int, pos Point, rect Rect, fn Function, circular bool) PSFData {
	res:=PSFData{Function: fn, Circular: circular, Status: BadParameters}
	height:=0
	if width>0 { height=len(data)/width }
	rect=rect.Clip(width, height)
	if rect.Width()<3 || rect.Height()<3 || (fn!=Gaussian && fn!=Moffat) { return res }

	// sample the patch
	center:=rect.Center()
	n:=rect.Width()*rect.Height()
	p:=&patch{dx: make([]float64, n), dy: make([]float64, n), z: make([]float64, n)}
	maxZ:=math.Inf(-1)
	i:=0
	for y:=rect.Y0; y<rect.Y1; y++ {
		for x:=rect.X0; x<rect.X1; x++ {
			p.dx[i], p.dy[i]=float64(x)-center.X, float64(y)-center.Y
			p.z[i]=data[y*width+x]
			if p.z[i]>maxZ { maxZ=p.z[i] }
			i++
		}
	}

	// initial values: background from the border lines, amplitude from the peak
	b0:=borderBackground(p.z, rect.Width(), rect.Height())
	l:=layout{fn, circular}
	x:=make([]float64, l.size())
	x[0], x[1]=b0, maxZ-b0
	x[2], x[3]=pos.X-center.X, pos.Y-center.Y
	x[4]=0.15*float64(rect.Width())
	if !circular { x[5], x[6]=x[4], 0 }
	if fn==Moffat { x[len(x)-1]=4 }

	problem:=lm.Problem{M: n, Func: func(dst, x []float64) {
		b, a, x0, y0, sx, sy, theta, beta:=l.unpack(x)
		if b<0 || a<0 || sx==0 || sy==0 || (fn==Moffat && beta<=0) {
			for i:=range dst { dst[i]=math.MaxFloat32 }
			return
		}
		for i, z:=range p.z {
			dst[i]=math.Abs(z-b-l.eval(a, x0, y0, sx, sy, theta, beta, p.dx[i], p.dy[i]))
		}
	}}
	sol:=lm.Solve(problem, x, lm.DefaultSettings(len(x)))
	res.Status=statusFromInfo(sol.Info)
	if res.Status==BadParameters { return res }

	b, a, x0, y0, sx, sy, theta, beta:=l.unpack(sol.X)
	sx, sy=math.Abs(sx), math.Abs(sy)
	if !circular && sy>sx {
		sx, sy=sy, sx
		theta+=math.Pi/2
	}
	res.B, res.A, res.Beta=b, a, beta
	res.C0=Point{center.X+x0, center.Y+y0}
	res.Sx, res.Sy=sx, sy
	if res.FWHMx()>float64(rect.Width()) { res.Status=NoConvergence }

	if circular {
		res.MAD=l.mad(p, b, a, x0, y0, sx, sy, 0, beta)
		return res
	}

	// the solver leaves theta ambiguous up to its quadrant, pick the best of the four hypotheses by direct evaluation
	folded:=math.Mod(math.Abs(theta*180/math.Pi), 90)
	candidates:=[]float64{folded, 90-folded, 90+folded, 180-folded}
	bestTheta, bestMAD:=folded, math.Inf(1)
	for _, c:=range candidates {
		if mad:=l.mad(p, b, a, x0, y0, sx, sy, c*math.Pi/180, beta); mad<bestMAD {
			bestTheta, bestMAD=c, mad
		}
	}
	res.Theta=math.Mod(bestTheta, 180)
	res.MAD=bestMAD
	return res
}

// Mean of the medians of the four border lines of a w*h patch
func borderBackground(z []float64, w, h int) float64 {
	line:=make([]float64, 0, w+h)
	sum:=0.0
	line=append(line[:0], z[:w]...)
	sum+=qsort.QSelectMedianFloat64(line)
	line=append(line[:0], z[(h-1)*w:]...)
	sum+=qsort.QSelectMedianFloat64(line)
	line=line[:0]
	for y:=0; y<h; y++ { line=append(line, z[y*w]) }
	sum+=qsort.QSelectMedianFloat64(line)
	line=line[:0]
	for y:=0; y<h; y++ { line=append(line, z[y*w+w-1]) }
	sum+=qsort.QSelectMedianFloat64(line)
	return 0.25*sum
}

// Fits PSFs to the given stars, around their centroids within their sampling rectangles.
// Returns the number of stars fitted ok
func FitStars(data []float64, width int, stars []Star, fn Function, circular bool) (numOk int) {
	for i:=range stars {
		s:=&stars[i]
		rect:=s.Rect
		if rect.Width()==0 {
			rect=RectAround(s.X, s.Y, s.HFR, width, len(data)/width)
		}
		p:=FitPSF(data, width, Point{s.X, s.Y}, rect, fn, circular)
		s.PSF=&p
		if p.Status==FittedOk { numOk++ }
	}
	return numOk
}
