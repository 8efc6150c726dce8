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


// Package lm minimizes sums of squares of non-linear functions with the Levenberg-Marquardt method,
// using finite difference Jacobians. Termination codes follow MINPACK's lmdif
package lm

import (
	"errors"
	"fmt"
	"math"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// A least squares problem with M residuals
type Problem struct {
	M    int                         // Number of residuals, at least the number of parameters
	Func func(dst, x []float64)      // Writes the M residuals at x into dst
}

// Termination settings
type Settings struct {
	FTol    float64  // Relative reduction of the sum of squares considered converged
	XTol    float64  // Relative change of the scaled parameters considered converged
	GTol    float64  // Cosine between residuals and Jacobian columns considered orthogonal
	MaxEval int      // Maximum number of function evaluations, including those for Jacobians
	Step    float64  // Finite difference step
}

// Returns the default settings for n parameters
func DefaultSettings(n int) Settings {
	tol:=math.Sqrt(dpmpar)
	return Settings{FTol: tol, XTol: tol, GTol: 0, MaxEval: 200*(n+1), Step: 1e-6}
}

// Termination code
type Info int
const (
	ImproperInput    Info = iota // 0: bad problem or settings
	FTolReached                  // 1: relative reduction of the sum of squares at most FTol
	XTolReached                  // 2: relative parameter change at most XTol
	BothTolReached               // 3: both 1 and 2
	Orthogonal                   // 4: residuals orthogonal to the Jacobian columns
	MaxEvalReached               // 5: evaluation budget exhausted
	FTolTooSmall                 // 6: no further reduction of the sum of squares possible
	XTolTooSmall                 // 7: no further improvement of the parameters possible
	GTolTooSmall                 // 8: residuals orthogonal to the Jacobian to machine precision
)

var infoNames=[]string{
	"improper input", "ftol reached", "xtol reached", "ftol and xtol reached", "orthogonal",
	"evaluation budget exhausted", "ftol too small", "xtol too small", "gtol too small",
}

func (i Info) String() string {
	if i>=0 && int(i)<len(infoNames) { return infoNames[i] }
	return fmt.Sprintf("Info(%d)", int(i))
}

// Converged returns true for the codes signalling a regular solution
func (i Info) Converged() bool { return i>=FTolReached && i<=BothTolReached }

// Result of a minimization
type Result struct {
	X           []float64  // Best parameters found
	Info        Info       // Termination code
	Evaluations int        // Function evaluations
	Iterations  int        // Jacobian evaluations
	Cost        float64    // Half the sum of squared residuals at X
}

// Machine precision
const dpmpar=2.220446049250313e-16

// Smallest parameter scale relative to the largest one
const diagFloor=1e-8

// Minimizes the sum of squares of p.Func starting from x0
func Solve(p Problem, x0 []float64, s Settings) Result {
	n:=len(x0)
	res:=Result{X: append([]float64(nil), x0...)}
	if n==0 || p.Func==nil || p.M<n || s.FTol<0 || s.XTol<0 || s.GTol<0 || s.MaxEval<=0 {
		return res
	}
	if s.Step<=0 { s.Step=1e-6 }
	m:=p.M

	eval:=func(dst, x []float64) {
		p.Func(dst, x)
		res.Evaluations++
	}

	x:=res.X
	f:=make([]float64, m)
	eval(f, x)
	fnorm:=floats.Norm(f, 2)

	J  :=mat.NewDense(m, n, nil)
	jtj:=mat.NewSymDense(n, nil)
	a  :=mat.NewSymDense(n, nil)
	var g, rhs, delta mat.VecDense
	diag:=make([]float64, n)
	xn:=make([]float64, n)
	fn:=make([]float64, m)
	lambda, nu:=1e-3, 2.0

	for {
		// Jacobian and gradient at x
		fd.Jacobian(J, eval, x, &fd.JacobianSettings{Formula: fd.Central, Step: s.Step, OriginValue: f})
		res.Iterations++
		jtj.Zero()
		jtj.SymOuterK(1, J.T())
		g.MulVec(J.T(), mat.NewVecDense(m, f))

		// scale by the largest column norms seen so far, floored relative to the largest
		maxDiag:=0.0
		for j:=0; j<n; j++ {
			if c:=math.Sqrt(jtj.At(j, j)); c>diag[j] { diag[j]=c }
			maxDiag=math.Max(maxDiag, diag[j])
		}
		if maxDiag==0 { maxDiag=1 }
		for j:=0; j<n; j++ {
			diag[j]=math.Max(diag[j], diagFloor*maxDiag)
		}

		// cosine between residuals and Jacobian columns
		gnorm:=0.0
		if fnorm!=0 {
			for j:=0; j<n; j++ {
				if c:=math.Sqrt(jtj.At(j, j)); c!=0 {
					gnorm=math.Max(gnorm, math.Abs(g.AtVec(j))/(c*fnorm))
				}
			}
		}
		if gnorm<=s.GTol { res.Info=Orthogonal; break }
		if gnorm<=dpmpar { res.Info=GTolTooSmall; break }

		xnorm:=scaledNorm(diag, x)
		accepted:=false
		for !accepted {
			if res.Evaluations>=s.MaxEval { res.Info=MaxEvalReached; break }
			if math.IsInf(lambda, 1) { res.Info=XTolTooSmall; break }

			// solve (J'J + lambda D^2) delta = -J'f
			a.CopySym(jtj)
			for j:=0; j<n; j++ {
				a.SetSym(j, j, jtj.At(j, j)+lambda*diag[j]*diag[j])
			}
			rhs.ScaleVec(-1, &g)
			if !solveNormal(&delta, a, &rhs) {
				lambda*=nu; nu*=2
				continue
			}

			for j:=range xn {
				xn[j]=x[j]+delta.AtVec(j)
			}
			eval(fn, xn)
			fnorm1:=floats.Norm(fn, 2)
			pnorm:=scaledNormVec(diag, &delta)

			// actual and predicted relative reductions
			actred:=-1.0
			if fnorm1<fnorm { actred=1-(fnorm1/fnorm)*(fnorm1/fnorm) }
			gd:=mat.Dot(&g, &delta)
			dd:=0.0
			for j:=0; j<n; j++ {
				v:=diag[j]*delta.AtVec(j)
				dd+=v*v
			}
			prered:=0.0
			if fnorm!=0 { prered=(lambda*dd-gd)/(fnorm*fnorm) }
			ratio:=0.0
			if prered!=0 { ratio=actred/prered }

			if ratio>1e-4 {
				copy(x, xn)
				copy(f, fn)
				fnorm=fnorm1
				xnorm=scaledNorm(diag, x)
				lambda*=math.Max(1.0/3, 1-math.Pow(2*ratio-1, 3))
				nu=2
				accepted=true
			} else {
				lambda*=nu
				nu*=2
			}

			// convergence tests
			if math.Abs(actred)<=s.FTol && prered<=s.FTol && ratio<=2 { res.Info=FTolReached }
			if pnorm<=s.XTol*xnorm {
				if res.Info==FTolReached { res.Info=BothTolReached } else { res.Info=XTolReached }
			}
			if res.Info!=ImproperInput { break }

			// tests for termination and stringent tolerances
			if math.Abs(actred)<=dpmpar && prered<=dpmpar && ratio<=2 { res.Info=FTolTooSmall; break }
			if pnorm<=dpmpar*xnorm { res.Info=XTolTooSmall; break }
		}
		if res.Info!=ImproperInput { break }
	}

	res.Cost=0.5*fnorm*fnorm
	return res
}

// Solves a*dst=b, with Cholesky and an LU fallback. Ill-conditioning is reported by
// gonum as mat.Condition while the solution is still written, so it counts as success
func solveNormal(dst *mat.VecDense, a *mat.SymDense, b *mat.VecDense) bool {
	var ch mat.Cholesky
	var err error
	if ch.Factorize(a) {
		err=ch.SolveVecTo(dst, b)
	} else {
		err=dst.SolveVec(a, b)
	}
	if err==nil { return true }
	var cond mat.Condition
	if !errors.As(err, &cond) { return false }
	for j:=0; j<dst.Len(); j++ {
		if v:=dst.AtVec(j); math.IsNaN(v) || math.IsInf(v, 0) { return false }
	}
	return true
}

func scaledNorm(diag, x []float64) float64 {
	sum:=0.0
	for j, v:=range x {
		d:=diag[j]*v
		sum+=d*d
	}
	return math.Sqrt(sum)
}

func scaledNormVec(diag []float64, v *mat.VecDense) float64 {
	sum:=0.0
	for j, d:=range diag {
		s:=d*v.AtVec(j)
		sum+=s*s
	}
	return math.Sqrt(sum)
}
