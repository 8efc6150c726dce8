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


package lm

import (
	"math"
	"testing"
)

func TestRosenbrock(t *testing.T) {
	p:=Problem{M: 2, Func: func(dst, x []float64) {
		dst[0]=10*(x[1]-x[0]*x[0])
		dst[1]=1-x[0]
	}}
	res:=Solve(p, []float64{-1.2, 1}, DefaultSettings(2))
	if !res.Info.Converged() && res.Info!=Orthogonal {
		t.Errorf("terminated with %s", res.Info)
	}
	if math.Abs(res.X[0]-1)>1e-6 || math.Abs(res.X[1]-1)>1e-6 {
		t.Errorf("got %v expect [1 1]", res.X)
	}
}

func TestExponentialFit(t *testing.T) {
	ts:=make([]float64, 30)
	ys:=make([]float64, len(ts))
	for i:=range ts {
		ts[i]=float64(i)*0.2
		ys[i]=2.5*math.Exp(-0.7*ts[i])+0.3
	}
	p:=Problem{M: len(ts), Func: func(dst, x []float64) {
		for i, tv:=range ts {
			dst[i]=x[0]*math.Exp(-x[1]*tv)+x[2]-ys[i]
		}
	}}
	res:=Solve(p, []float64{1, 1, 0}, DefaultSettings(3))
	expect:=[]float64{2.5, 0.7, 0.3}
	for i, e:=range expect {
		if math.Abs(res.X[i]-e)>1e-5 {
			t.Errorf("parameter %d got %g expect %g (%s)", i, res.X[i], e, res.Info)
		}
	}
	if res.Cost>1e-12 {
		t.Errorf("cost %g", res.Cost)
	}
}

func TestImproperInput(t *testing.T) {
	f:=func(dst, x []float64) { dst[0]=x[0] }
	cases:=[]struct{ p Problem; x0 []float64; s Settings }{
		{Problem{M: 1, Func: f}, nil, DefaultSettings(0)},
		{Problem{M: 1, Func: f}, []float64{1, 2}, DefaultSettings(2)},
		{Problem{M: 1}, []float64{1}, DefaultSettings(1)},
		{Problem{M: 1, Func: f}, []float64{1}, Settings{FTol: -1, MaxEval: 10}},
	}
	for i, c:=range cases {
		if res:=Solve(c.p, c.x0, c.s); res.Info!=ImproperInput {
			t.Errorf("case %d: got %s expect %s", i, res.Info, ImproperInput)
		}
	}
}

func TestEvaluationBudget(t *testing.T) {
	p:=Problem{M: 2, Func: func(dst, x []float64) {
		dst[0]=10*(x[1]-x[0]*x[0])
		dst[1]=1-x[0]
	}}
	s:=DefaultSettings(2)
	s.MaxEval=8
	res:=Solve(p, []float64{-1.2, 1}, s)
	if res.Info!=MaxEvalReached {
		t.Errorf("got %s expect %s", res.Info, MaxEvalReached)
	}
}

// The quadratic term enters as x[2]*x[3] with x[3] starting near zero, so the x[2] column of the
// Jacobian is tiny and the normal equations are ill-conditioned at the start
func TestNearlyDegenerateStart(t *testing.T) {
	ts:=make([]float64, 20)
	ys:=make([]float64, len(ts))
	for i:=range ts {
		ts[i]=float64(i)*0.1
		ys[i]=1+2*ts[i]+0.5*ts[i]*ts[i]
	}
	p:=Problem{M: len(ts), Func: func(dst, x []float64) {
		for i, tv:=range ts {
			dst[i]=x[0]+x[1]*tv+x[2]*x[3]*tv*tv-ys[i]
		}
	}}
	res:=Solve(p, []float64{0, 0, 1, 1e-9}, DefaultSettings(4))
	if !res.Info.Converged() && res.Info!=Orthogonal {
		t.Errorf("terminated with %s after %d evaluations", res.Info, res.Evaluations)
	}
	if math.Abs(res.X[0]-1)>1e-5 || math.Abs(res.X[1]-2)>1e-5 || math.Abs(res.X[2]*res.X[3]-0.5)>1e-5 {
		t.Errorf("got %v expect x0=1 x1=2 x2*x3=0.5", res.X)
	}
}
