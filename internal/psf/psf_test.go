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


package psf

import (
	"errors"
	"math"
	"testing"
	"github.com/mlnoga/nightrestore/internal/sample"
)

func TestParametricNormalizesToOne(t *testing.T) {
	cases:=[]struct{ sigma, shape, aspect, angle float64 }{
		{1, 2, 1, 0},
		{2.5, 2, 0.5, 30},
		{1.5, 1, 1, 0},
		{3, 4, 0.7, 120},
	}
	for _, c:=range cases {
		k, err:=Parametric(c.sigma, c.shape, c.aspect, c.angle)
		if err!=nil { t.Fatalf("%v: %v", c, err) }
		if k.Width%2!=1 || k.Width<3 || k.Width!=k.Height {
			t.Errorf("%v: size %dx%d not odd and square", c, k.Width, k.Height)
		}
		if err:=k.Normalize(sample.Float64); err!=nil { t.Fatalf("%v: %v", c, err) }
		if sum:=k.Sum(0); math.Abs(sum-1)>1e-12 {
			t.Errorf("%v: sum %g expect 1", c, sum)
		}
	}
}

func TestParametricGaussianSize(t *testing.T) {
	// exp(-r^2/(2 sigma^2)) drops to 0.01 at r=sigma*sqrt(2 ln 100)=3.03 sigma
	k, _:=Parametric(2, 2, 1, 0)
	if k.Width!=15 {
		t.Errorf("width %d expect 15", k.Width)
	}
	center:=k.Data[0][7*15+7]
	if center!=1 {
		t.Errorf("center %g expect 1", center)
	}
}

func TestParametricRotation(t *testing.T) {
	// an elongated kernel rotated by 90 degrees is elongated along the columns
	k, _:=Parametric(2, 2, 0.3, 90)
	c:=k.Width/2
	alongRow:=k.Data[0][c*k.Width+c+3]
	alongCol:=k.Data[0][(c+3)*k.Width+c]
	if !(alongCol>alongRow) {
		t.Errorf("column value %g not larger than row value %g", alongCol, alongRow)
	}
}

func TestParametricValidates(t *testing.T) {
	for _, c:=range [][4]float64{{0, 2, 1, 0}, {1, 0, 1, 0}, {1, 2, 0, 0}, {1, 2, 1.5, 0}} {
		if _, err:=Parametric(c[0], c[1], c[2], c[3]); !errors.Is(err, sample.ErrConfiguration) {
			t.Errorf("%v: got %v expect ErrConfiguration", c, err)
		}
	}
}

func TestMotionSize(t *testing.T) {
	cases:=[]struct{ length, angle float64; w, h int }{
		{10, 0, 10, 3},
		{10, 90, 3, 10},
		{20, 45, 14, 14},
		{1, 30, 3, 3},
	}
	for _, c:=range cases {
		k, err:=Motion(c.length, c.angle)
		if err!=nil { t.Fatalf("%v: %v", c, err) }
		if k.Width!=c.w || k.Height!=c.h {
			t.Errorf("motion %g at %g: size %dx%d expect %dx%d", c.length, c.angle, k.Width, k.Height, c.w, c.h)
		}
		if err:=k.Normalize(sample.Float32); err!=nil { t.Errorf("%v", err) }
	}
}

func TestExternalErrors(t *testing.T) {
	gray:=sample.New[float32](5, 5, 1, 0)
	gray.Planes[0][12]=1
	lib:=MapLibrary{
		"gray":  gray,
		"color": sample.New[float32](5, 5, 3, 0),
	}
	for _, id:=range []string{"", "missing", "color"} {
		if _, err:=External(lib, id); !errors.Is(err, sample.ErrConfiguration) {
			t.Errorf("%q: got %v expect ErrConfiguration", id, err)
		}
	}
	k, err:=External(lib, "gray")
	if err!=nil { t.Fatal(err) }
	if k.Width!=5 || k.Sum(0)!=1 {
		t.Errorf("got %s with sum %g", k, k.Sum(0))
	}
}

func TestNormalizeEmptyAndFits(t *testing.T) {
	k:=NewKernel(3, 3, 1)
	k.Data[0][0], k.Data[0][8]=1e-9, -1e-9
	if err:=k.Normalize(sample.Float32); !errors.Is(err, sample.ErrEmptyKernel) {
		t.Errorf("got %v expect ErrEmptyKernel", err)
	}
	if err:=k.FitsIn(2, 10); !errors.Is(err, sample.ErrGeometry) {
		t.Errorf("got %v expect ErrGeometry", err)
	}
	if err:=k.FitsIn(3, 3); err!=nil {
		t.Errorf("got %v expect nil", err)
	}
}
