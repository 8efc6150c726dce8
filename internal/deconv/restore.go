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


// Package deconv restores images blurred by a known point spread function with
// Wiener or constrained least squares filters in the frequency domain
package deconv

import (
	"fmt"
	"io"
	"math"
	"github.com/mlnoga/nightrestore/internal/fft"
	"github.com/mlnoga/nightrestore/internal/progress"
	"github.com/mlnoga/nightrestore/internal/psf"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// Optional outputs of a restoration run
type Result struct {
	DarkMap   *sample.Buffer[float64]  // Dark ring corrections, one plane per restored channel
	BrightMap *sample.Buffer[float64]  // Bright ring corrections, one plane per restored channel
}

// Discrete 4-neighbour Laplacian used as CLS smoothness constraint
var laplacian=[]float64{
	 0, -1,  0,
	-1,  4, -1,
	 0, -1,  0,
}

// Checks whether the engine can run on the given image
func CanExecuteOn(img sample.Image) error {
	return sample.CheckReal(img)
}

// Estimates the peak working set in bytes for restoring one channel of a w*h image with a kw*kh kernel
func WorkingSetBytes(w, h, kw, kh int, alg Algorithm) int64 {
	pw, ph, _, _:=fft.PaddedGeometry(w, h, kw, kh)
	complexPlanes:=int64(2)
	if alg==ConstrainedLeastSquares { complexPlanes++ }
	return complexPlanes*int64(pw)*int64(ph)*16 + 4*int64(w)*int64(h)*8
}

// Restores the nominal channels of img in place, deconvolving with the given kernel. All preconditions
// are checked before any pixel is written. Alpha channels are left untouched.
// Progress is reported to the monitor, which may abort the run before results are written back
func Restore(img sample.Image, kernel *psf.Kernel, params Params, monitor progress.Monitor, logWriter io.Writer) (*Result, error) {
	if logWriter==nil { logWriter=io.Discard }
	if monitor==nil { monitor=progress.NullMonitor{} }

	// preconditions
	if err:=CanExecuteOn(img); err!=nil { return nil, err }
	if kernel==nil || kernel.Channels<1 {
		return nil, fmt.Errorf("%w: no PSF kernel", sample.ErrConfiguration)
	}
	if err:=params.Validate(); err!=nil { return nil, err }
	w, h:=img.Dims()
	if err:=kernel.FitsIn(w, h); err!=nil { return nil, err }
	kernel=kernel.Clone()
	if err:=kernel.Normalize(img.SampleKind()); err!=nil { return nil, err }
	if params.MaxMemoryMB>0 {
		need:=WorkingSetBytes(w, h, kernel.Width, kernel.Height, params.Algorithm)
		if need>params.MaxMemoryMB*1024*1024 {
			return nil, fmt.Errorf("%w: restoration needs %d MB, limit is %d MB", sample.ErrResource, need>>20, params.MaxMemoryMB)
		}
	}

	// gather the planes to restore
	work:=sample.Nominal64(img)
	var lum *luminance
	planes:=work.Planes
	if params.ToLuminance && work.Nominal==3 {
		lum=toLuminance(work)
		planes=[][]float64{lum.L}
	}
	fmt.Fprintf(logWriter, "Restoring %dx%d %s image with %s filter, %s, amount %.3g, %d plane(s)\n",
	            w, h, img.SampleKind(), params.Algorithm, kernel, params.Amount, len(planes))

	monitor.Initialize(fmt.Sprintf("%s restoration", params.Algorithm), int64(len(planes)))
	f:=newFilter(w, h, kernel, params)
	restored:=make([][]float64, len(planes))
	for c, plane:=range planes {
		restored[c]=f.apply(plane, c)
		if err:=monitor.Add(1); err!=nil { return nil, err }
	}

	res:=&Result{}
	if params.Deringing {
		dark, bright:=dering(restored, planes, params.DeringingDark, params.DeringingBright)
		if params.OutputDeringingMaps {
			res.DarkMap, _  =sample.NewFromPlanes(w, h, nominalFor(len(dark)), dark)
			res.BrightMap, _=sample.NewFromPlanes(w, h, nominalFor(len(bright)), bright)
		}
	}
	for _, p:=range restored {
		normalizeRange(p, params.RangeLow, params.RangeHigh)
	}

	// write back
	if lum!=nil {
		lum.L=restored[0]
		lum.toRGB(work)
	} else {
		work.Planes=restored
	}
	sample.StoreNominal64(img, work)
	return res, nil
}

func nominalFor(planes int) int {
	if planes==3 { return 3 }
	return 1
}


// Frequency domain filter state shared across the channels of one run
type filter struct {
	width, height  int
	pw, ph, ox, oy int
	kernel         *psf.Kernel
	params         Params
	spectra        map[int]*fft.Plane  // kernel spectra by kernel channel
	constraint     []float64           // |P|^2 of the Laplacian, CLS only
}

func newFilter(w, h int, kernel *psf.Kernel, params Params) *filter {
	pw, ph, ox, oy:=fft.PaddedGeometry(w, h, kernel.Width, kernel.Height)
	f:=&filter{width: w, height: h, pw: pw, ph: ph, ox: ox, oy: oy, kernel: kernel, params: params, spectra: map[int]*fft.Plane{}}
	if params.Algorithm==ConstrainedLeastSquares {
		p:=fft.NewPlane(pw, ph)
		fft.PlaceKernel(p, laplacian, 3, 3, 1)
		p.Forward()
		f.constraint=make([]float64, len(p.Data))
		for i, v:=range p.Data {
			f.constraint[i]=real(v)*real(v)+imag(v)*imag(v)
		}
	}
	return f
}

// Returns the spectrum of the kernel channel serving image channel c
func (f *filter) spectrum(c int) *fft.Plane {
	kc:=c
	if kc>=f.kernel.Channels { kc=0 }
	if s, ok:=f.spectra[kc]; ok { return s }
	s:=fft.NewPlane(f.pw, f.ph)
	fft.PlaceKernel(s, f.kernel.ChannelFor(c), f.kernel.Width, f.kernel.Height, 1)
	s.Forward()
	f.spectra[kc]=s
	return s
}

// Regularized |H|^2 at frequency index i
func (f *filter) denominator(h2 float64, i int) float64 {
	if f.params.Algorithm==Wiener {
		return h2+f.params.K // G |H|^2/(|H|^2+K)/H = G conj(H)/(|H|^2+K)
	}
	return h2+f.params.Gamma*f.constraint[i]
}

// Filter response at zero frequency. Wiener regularization attenuates it to 1/(1+K) for a
// normalized kernel, so apply divides it out and flat fields keep their level
func (f *filter) dcResponse(h *fft.Plane) float64 {
	h2:=real(h.Data[0])*real(h.Data[0])+imag(h.Data[0])*imag(h.Data[0])
	denom:=f.denominator(h2, 0)
	if denom==0 { return 0 }
	return h2/denom
}

// Restores one plane and returns the blended result
func (f *filter) apply(plane []float64, c int) []float64 {
	g:=fft.NewPlane(f.pw, f.ph)
	fft.MirrorPad(g, plane, f.width, f.height, f.ox, f.oy)
	g.Forward()

	h:=f.spectrum(c)
	gain:=1.0
	if dc:=f.dcResponse(h); dc>0 { gain=1/dc }
	for i, hv:=range h.Data {
		h2:=real(hv)*real(hv)+imag(hv)*imag(hv)
		denom:=f.denominator(h2, i)
		if denom==0 {
			g.Data[i]=0
			continue
		}
		g.Data[i]*=complex(gain*real(hv)/denom, -gain*imag(hv)/denom)
	}

	g.Inverse()
	g.Scale(1/float64(f.pw*f.ph))

	amount:=f.params.Amount
	if amount==1 {
		return g.Real(f.width, f.height, f.ox, f.oy)
	}
	res:=g.Abs(f.width, f.height, f.ox, f.oy)
	for i, v:=range res {
		res[i]=(1-amount)*plane[i]+amount*v
	}
	return res
}


// Truncates to [-low, 1+high] and rescales to [0,1]
func normalizeRange(data []float64, low, high float64) {
	scale:=1/(1+low+high)
	for i, v:=range data {
		if v< -low  { v=-low } else if v>1+high { v=1+high }
		if math.IsNaN(v) { v=0 }
		data[i]=(v+low)*scale
	}
}
