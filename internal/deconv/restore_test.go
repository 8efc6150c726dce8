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


package deconv

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"github.com/mlnoga/nightrestore/internal/fft"
	"github.com/mlnoga/nightrestore/internal/progress"
	"github.com/mlnoga/nightrestore/internal/psf"
	"github.com/mlnoga/nightrestore/internal/sample"
	"github.com/mlnoga/nightrestore/internal/synth"
)

func gaussianKernel(t *testing.T, sigma float64) *psf.Kernel {
	k, err:=psf.Parametric(sigma, 2, 1, 0)
	if err!=nil { t.Fatal(err) }
	return k
}

func flat(w, h, nominal int, v float64) *sample.Buffer[float64] {
	b:=sample.New[float64](w, h, nominal, 0)
	for _, p:=range b.Planes {
		for i:=range p { p[i]=v }
	}
	return b
}

func rms(a, b []float64) float64 {
	sum:=0.0
	for i:=range a {
		d:=a[i]-b[i]
		sum+=d*d
	}
	return math.Sqrt(sum/float64(len(a)))
}

func TestAmountZeroIsIdentity(t *testing.T) {
	p:=synth.DefaultFieldParams(48, 40)
	data, _:=synth.Field(p)
	img, _:=sample.NewFromPlanes(48, 40, 1, [][]float64{append([]float64(nil), data...)})
	params:=DefaultParams()
	params.Amount=0
	if _, err:=Restore(img, gaussianKernel(t, 1.5), params, nil, nil); err!=nil { t.Fatal(err) }
	for i, v:=range img.Planes[0] {
		if v!=data[i] {
			t.Fatalf("sample %d changed from %g to %g", i, data[i], v)
		}
	}

	rgb:=sample.New[uint16](16, 16, 3, 0)
	for c, pl:=range rgb.Planes {
		for i:=range pl { pl[i]=uint16(1000*(c+1)+37*i) }
	}
	orig:=rgb.Clone()
	if _, err:=Restore(rgb, gaussianKernel(t, 1), params, nil, nil); err!=nil { t.Fatal(err) }
	for c:=range rgb.Planes {
		for i:=range rgb.Planes[c] {
			if d:=int(rgb.Planes[c][i])-int(orig.Planes[c][i]); d< -1 || d>1 {
				t.Fatalf("channel %d sample %d changed from %d to %d", c, i, orig.Planes[c][i], rgb.Planes[c][i])
			}
		}
	}
}

func TestFlatFieldStaysFlat(t *testing.T) {
	kernels:=[]*psf.Kernel{gaussianKernel(t, 2)}
	if m, err:=psf.Motion(9, 30); err==nil { kernels=append(kernels, m) }
	for _, alg:=range []Algorithm{Wiener, ConstrainedLeastSquares} {
		for _, k:=range kernels {
			for _, reg:=range []float64{0, 1e-4, 0.5} {
				img:=flat(256, 256, 1, 0.5)
				params:=DefaultParams()
				params.Algorithm=alg
				if reg>0 { params.K, params.Gamma=reg, reg }
				if _, err:=Restore(img, k, params, nil, nil); err!=nil { t.Fatal(err) }
				for i, v:=range img.Planes[0] {
					if math.Abs(v-0.5)>1e-3 {
						t.Fatalf("%s with %s, regularization %g: sample %d at %d,%d is %g", alg, k, reg, i, i%256, i/256, v)
					}
				}
			}
		}
	}
}

func TestRoundTrip(t *testing.T) {
	const w, h=64, 64
	sources:=[]synth.Source{
		{X: 20, Y: 22, A: 0.6, Sx: 2.5, Sy: 2, ThetaDeg: 20},
		{X: 41, Y: 37, A: 0.4, Sx: 2, Sy: 2},
		{X: 30, Y: 45, A: 0.3, Sx: 3, Sy: 2.2, ThetaDeg: 110},
	}
	orig:=synth.Render(w, h, 0.1, sources)
	k:=gaussianKernel(t, 1.5)
	k.Normalize(sample.Float64)
	blurred:=fft.Convolve(orig, w, h, k.Data[0], k.Width, k.Height)
	if e:=rms(blurred, orig); e<0.005 {
		t.Fatalf("blur too weak for a meaningful test, rms %g", e)
	}

	for _, alg:=range []Algorithm{Wiener, ConstrainedLeastSquares} {
		img, _:=sample.NewFromPlanes(w, h, 1, [][]float64{append([]float64(nil), blurred...)})
		params:=DefaultParams()
		params.Algorithm=alg
		params.K, params.Gamma=1e-7, 1e-7
		if _, err:=Restore(img, k, params, nil, nil); err!=nil { t.Fatal(err) }
		if e:=rms(img.Planes[0], orig); e>0.005 {
			t.Errorf("%s: rms error %g after restoration", alg, e)
		}
	}
}

func TestPreconditions(t *testing.T) {
	params:=DefaultParams()
	k:=gaussianKernel(t, 1)
	if _, err:=Restore(sample.NewComplex(8, 8, 1), k, params, nil, nil); !errors.Is(err, sample.ErrUnsupported) {
		t.Errorf("complex image: got %v expect ErrUnsupported", err)
	}

	small:=flat(4, 4, 1, 0.25)
	big:=gaussianKernel(t, 3)
	if _, err:=Restore(small, big, params, nil, nil); !errors.Is(err, sample.ErrGeometry) {
		t.Errorf("large kernel: got %v expect ErrGeometry", err)
	}
	if small.Planes[0][5]!=0.25 { t.Errorf("image modified on failure") }

	empty:=psf.NewKernel(3, 3, 1)
	if _, err:=Restore(small, empty, params, nil, nil); !errors.Is(err, sample.ErrEmptyKernel) {
		t.Errorf("empty kernel: got %v expect ErrEmptyKernel", err)
	}

	bad:=params
	bad.Amount=1.5
	if _, err:=Restore(small, psf.NewKernel(1, 1, 1), bad, nil, nil); !errors.Is(err, sample.ErrConfiguration) {
		t.Errorf("bad amount: got %v expect ErrConfiguration", err)
	}

	limited:=params
	limited.MaxMemoryMB=1
	if _, err:=Restore(flat(1024, 1024, 1, 0.5), k, limited, nil, nil); !errors.Is(err, sample.ErrResource) {
		t.Errorf("memory limit: got %v expect ErrResource", err)
	}
}

type abortingMonitor struct{}
func (abortingMonitor) Initialize(info string, total int64) {}
func (abortingMonitor) Add(units int64) error               { return sample.ErrAborted }

func TestAbortLeavesImageUntouched(t *testing.T) {
	img:=flat(32, 32, 3, 0.3)
	img.Planes[0][100]=0.9
	params:=DefaultParams()
	params.ToLuminance=false
	_, err:=Restore(img, gaussianKernel(t, 1), params, abortingMonitor{}, nil)
	if !errors.Is(err, sample.ErrAborted) {
		t.Fatalf("got %v expect ErrAborted", err)
	}
	if img.Planes[0][100]!=0.9 || img.Planes[1][100]!=0.3 {
		t.Errorf("image modified after abort")
	}
}

func TestDeringingMaps(t *testing.T) {
	const w, h=48, 48
	// a bright disk on dark background rings after sharpening
	data:=make([]float64, w*h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			dx, dy:=float64(x-24), float64(y-24)
			if dx*dx+dy*dy<64 { data[y*w+x]=0.8 } else { data[y*w+x]=0.2 }
		}
	}
	params:=DefaultParams()
	params.K=1e-3
	params.Deringing=true
	params.DeringingDark=1
	params.DeringingBright=0.5
	params.OutputDeringingMaps=true

	plain:=params
	plain.Deringing=false
	ref, _:=sample.NewFromPlanes(w, h, 1, [][]float64{append([]float64(nil), data...)})
	if _, err:=Restore(ref, gaussianKernel(t, 2), plain, nil, nil); err!=nil { t.Fatal(err) }

	img, _:=sample.NewFromPlanes(w, h, 1, [][]float64{append([]float64(nil), data...)})
	res, err:=Restore(img, gaussianKernel(t, 2), params, nil, nil)
	if err!=nil { t.Fatal(err) }
	if res.DarkMap==nil || res.BrightMap==nil {
		t.Fatalf("missing deringing maps")
	}
	corrected:=0
	for i, v:=range res.DarkMap.Planes[0] {
		if v<0 || v>1 || res.BrightMap.Planes[0][i]<0 || res.BrightMap.Planes[0][i]>0.5 {
			t.Fatalf("map values out of range at %d: %g %g", i, v, res.BrightMap.Planes[0][i])
		}
		if v>0 || res.BrightMap.Planes[0][i]>0 { corrected++ }
	}
	if corrected==0 { t.Errorf("no pixels corrected") }
	if e1, e0:=rms(img.Planes[0], data), rms(ref.Planes[0], data); e1>e0 {
		t.Errorf("deringing moved result away from original: rms %g vs %g", e1, e0)
	}
}

func TestLuminanceKeepsChroma(t *testing.T) {
	img:=flat(32, 32, 3, 0)
	for i:=range img.Planes[0] {
		img.Planes[0][i], img.Planes[1][i], img.Planes[2][i]=0.4, 0.2, 0.1
	}
	img.Planes[0][16*32+16]=0.9
	var log bytes.Buffer
	if _, err:=Restore(img, gaussianKernel(t, 1), DefaultParams(), progress.NullMonitor{}, &log); err!=nil { t.Fatal(err) }
	if log.Len()==0 { t.Errorf("nothing logged") }
	// far from the bright pixel the hue is unchanged
	i:=2*32+2
	r, g, b:=img.Planes[0][i], img.Planes[1][i], img.Planes[2][i]
	if !(r>g && g>b) {
		t.Errorf("hue changed: %g %g %g", r, g, b)
	}
}

func TestAlgorithmNames(t *testing.T) {
	var a Algorithm
	if err:=a.Set("CLS"); err!=nil || a!=ConstrainedLeastSquares {
		t.Errorf("got %v, %v", a, err)
	}
	if err:=a.Set("bogus"); !errors.Is(err, sample.ErrConfiguration) {
		t.Errorf("got %v expect ErrConfiguration", err)
	}
}
