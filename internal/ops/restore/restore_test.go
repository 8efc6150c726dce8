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

package restore

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"github.com/valyala/fastrand"
	"github.com/mlnoga/nightrestore/internal/deconv"
	"github.com/mlnoga/nightrestore/internal/ops"
	"github.com/mlnoga/nightrestore/internal/psf"
	"github.com/mlnoga/nightrestore/internal/sample"
	"github.com/mlnoga/nightrestore/internal/stats"
	"github.com/mlnoga/nightrestore/internal/synth"
)

func synthFrame(t *testing.T, c *ops.Context, w, h, channels int) *ops.Frame {
	p:=synth.DefaultFieldParams(w, h)
	f, err:=ops.NewOpSynth(1, p, channels, sample.Float32).Apply(nil, c)
	if err!=nil { t.Fatalf("synth: %v", err) }
	return f
}

func TestPSFSpecKernels(t *testing.T) {
	lib:=psf.MapLibrary{"star.tif": sample.New[uint16](5, 5, 1, 0)}
	for _, spec:=range []PSFSpec{
		DefaultPSFSpec(),
		{Kind: "motion", Length: 7, Angle: 45},
		{Kind: "external", File: "star.tif"},
	} {
		k, err:=spec.Kernel(lib)
		if err!=nil || k==nil { t.Errorf("%v: %v", spec, err) }
	}
	if _, err:=(PSFSpec{Kind: "airy"}).Kernel(lib); !errors.Is(err, sample.ErrConfiguration) {
		t.Errorf("unknown kind: got %v; want ErrConfiguration", err)
	}
	if _, err:=(PSFSpec{Kind: "external", File: "missing.tif"}).Kernel(NewFileLibrary()); !errors.Is(err, sample.ErrConfiguration) {
		t.Errorf("missing file: got %v; want ErrConfiguration", err)
	}
}

func TestDeconvolveSharpensField(t *testing.T) {
	c:=ops.NewContext(context.Background(), io.Discard)
	f:=synthFrame(t, c, 96, 96, 1)
	before:=f.Stats()
	params:=deconv.DefaultParams()
	params.K=1e-3
	params.ToLuminance=false
	op:=NewOpDeconvolve(PSFSpec{Kind: "parametric", Sigma: 1.8, Shape: 2, Aspect: 1}, params)
	res, err:=op.Apply(f, c)
	if err!=nil { t.Fatalf("deconvolve: %v", err) }
	after:=res.Stats()
	if !(after.Max>before.Max) {
		t.Errorf("peak %g did not rise above %g", after.Max, before.Max)
	}
	if math.Abs(after.Mean-before.Mean)>0.01 {
		t.Errorf("mean moved from %g to %g", before.Mean, after.Mean)
	}
}

func TestDeconvolveJSONDefaults(t *testing.T) {
	op, err:=ops.ParseOperatorJSON5([]byte(`{type: "deconvolve", params: {algorithm: "cls", gamma: 0.5}}`))
	if err!=nil { t.Fatalf("parse: %v", err) }
	d:=op.(*OpDeconvolve)
	if d.Params.Gamma!=0.5 || d.Params.K!=0.01 || d.Params.Amount!=1 || d.PSF.Sigma!=2 || !d.Active || d.Library==nil {
		t.Errorf("parsed %+v", d)
	}
	f:=&ops.Frame{ID: 2, Image: sample.NewComplex(8, 8, 1)}
	if _, err:=d.Apply(f, ops.NewContext(context.Background(), io.Discard)); !errors.Is(err, sample.ErrUnsupported) {
		t.Errorf("complex image: got %v; want ErrUnsupported", err)
	}
}

func TestGREYCstorationDenoises(t *testing.T) {
	c:=ops.NewContext(context.Background(), io.Discard)
	rng:=fastrand.RNG{}
	img:=sample.New[float32](40, 40, 3, 0)
	for ch:=range img.Planes {
		data:=make([]float64, 40*40)
		for i:=range data { data[i]=0.4 }
		synth.AddNoise(data, 0.02, &rng)
		img.SetChannel64(ch, data)
	}
	before:=stats.CalcBasic(img.Channel64(1))
	op, err:=ops.ParseOperatorJSON5([]byte(`{type: "greycstoration", params: {amplitude: 40, interpolation: "nearest"}}`))
	if err!=nil { t.Fatalf("parse: %v", err) }
	g:=op.(*OpGREYCstoration)
	if g.Params.Sharpness!=0.8 || g.Params.Interpolation!=0 || !g.Params.CoupledChannels { t.Errorf("parsed %+v", g.Params) }
	if _, err:=g.Apply(&ops.Frame{ID: 1, Image: img}, c); err!=nil { t.Fatalf("apply: %v", err) }
	after:=stats.CalcBasic(img.Channel64(1))
	if after.StdDev>0.7*before.StdDev { t.Errorf("noise %g -> %g", before.StdDev, after.StdDev) }
}

func TestAbortedContext(t *testing.T) {
	ctx, cancel:=context.WithCancel(context.Background())
	cancel()
	c:=ops.NewContext(ctx, io.Discard)
	f:=synthFrame(t, c, 32, 32, 1)
	orig:=f.Image.Channel64(0)
	_, err:=NewOpGREYCstorationDefault().Apply(f, c)
	if !errors.Is(err, sample.ErrAborted) { t.Fatalf("got %v; want ErrAborted", err) }
	for i, v:=range f.Image.Channel64(0) {
		if v!=orig[i] { t.Fatalf("sample %d changed after abort", i) }
	}
}
