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

package greyc

import (
	"math"
	"github.com/mlnoga/nightrestore/internal/progress"
)

// Gradients are computed on an 8-bit value scale, so parameters keep their customary ranges
const valueScale=255.0

// A multi-channel float64 field, one row-major plane per channel
type Field struct {
	Width  int
	Height int
	Planes [][]float64
}

// Anisotropic smoothing of all planes of f in place, with one tensor field shared across planes.
// Computes the structure tensor, regularizes it, derives the diffusion tensor and averages line
// integral convolutions along directions spaced by the angular step. Adds one progress unit per pixel
func Smooth(f *Field, p Params, state *progress.State) {
	w, h:=f.Width, f.Height
	if p.Amplitude==0 || len(f.Planes)==0 || w<1 || h<1 {
		if state!=nil { state.Add(int64(w*h)) }
		return
	}
	t:=diffusionTensor(structureTensor(f, p.Alpha, p.Sigma), p.Sharpness, p.Anisotropy)
	lineIntegrals(f, t, p, state)
}

// Computes the structure tensor (xx, xy, yy) summed over all planes, with planes pre-blurred
// by alpha and the resulting tensor field blurred by sigma
func structureTensor(f *Field, alpha, sigma float64) (g [3][]float64) {
	w, h:=f.Width, f.Height
	n:=w*h
	for i:=range g { g[i]=make([]float64, n) }
	blurred:=make([]float64, n)
	tmp:=make([]float64, n)
	for _, plane:=range f.Planes {
		copy(blurred, plane)
		GaussFilter2D(blurred, tmp, w, alpha)
		for y:=0; y<h; y++ {
			ym, yp:=max(y-1, 0), min(y+1, h-1)
			for x:=0; x<w; x++ {
				xm, xp:=max(x-1, 0), min(x+1, w-1)
				ix:=0.5*valueScale*(blurred[y*w+xp]-blurred[y*w+xm])
				iy:=0.5*valueScale*(blurred[yp*w+x]-blurred[ym*w+x])
				i:=y*w+x
				g[0][i]+=ix*ix
				g[1][i]+=ix*iy
				g[2][i]+=iy*iy
			}
		}
	}
	for i:=range g { GaussFilter2D(g[i], tmp, w, sigma) }
	return g
}

// Converts a structure tensor field in place into a diffusion tensor field. Smoothing along
// isophotes is weighted (1+l1+l2)^-p1, across them (1+l1+l2)^-p2 with p2>=p1
func diffusionTensor(g [3][]float64, sharpness, anisotropy float64) [3][]float64 {
	power1:=0.5*sharpness
	power2:=power1/(1e-7+1-anisotropy)
	for i:=range g[0] {
		a, b, c:=g[0][i], g[1][i], g[2][i]
		diff:=a-c
		root:=math.Sqrt(diff*diff+4*b*b)
		l1:=math.Max(0, 0.5*(a+c+root))
		l2:=math.Max(0, 0.5*(a+c-root))

		ux, uy:=1.0, 0.0    // gradient direction, eigenvector of l1
		if b!=0 || diff!=0 {
			uy, ux=math.Sincos(0.5*math.Atan2(2*b, diff))
		}
		vx, vy:=-uy, ux     // isophote direction

		n1:=math.Pow(1+l1+l2, -power1)
		n2:=math.Pow(1+l1+l2, -power2)
		g[0][i]=n1*vx*vx + n2*ux*ux
		g[1][i]=n1*vx*vy + n2*ux*uy
		g[2][i]=n1*vy*vy + n2*uy*uy
	}
	return g
}

// A vector field T*w for one integration direction w
type vectorField struct {
	u, v []float64
}

// Averages line integral convolutions of f along the vector fields T*w for all directions w
func lineIntegrals(f *Field, t [3][]float64, p Params, state *progress.State) {
	w, h:=f.Width, f.Height
	n:=w*h

	var fields []vectorField
	for theta:=0.5*math.Mod(180, p.AngularStep); theta<180; theta+=p.AngularStep {
		wy, wx:=math.Sincos(theta*math.Pi/180)
		vf:=vectorField{make([]float64, n), make([]float64, n)}
		for i:=0; i<n; i++ {
			vf.u[i]=t[0][i]*wx + t[1][i]*wy
			vf.v[i]=t[1][i]*wx + t[2][i]*wy
		}
		fields=append(fields, vf)
	}

	res:=make([][]float64, len(f.Planes))
	for c:=range res { res[c]=make([]float64, n) }
	sum:=make([]float64, len(f.Planes))
	sqrt2amp:=math.Sqrt(2*p.Amplitude)
	dl:=p.SpatialStep
	invAngles:=1.0/float64(len(fields))

	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			i:=y*w+x
			for _, vf:=range fields {
				for c, plane:=range f.Planes { sum[c]=plane[i] }
				weights:=1.0

				fsigma:=math.Hypot(vf.u[i], vf.v[i])*sqrt2amp
				length:=p.Precision*fsigma
				fsigma2:=2*fsigma*fsigma
				if length>=dl {
					for _, dir:=range [2]float64{1, -1} {
						weights+=trace(f, vf, x, y, dir, length, fsigma2, p, sum)
					}
				}
				for c:=range res { res[c][i]+=sum[c]/weights*invAngles }
			}
		}
		if state!=nil { state.Add(int64(w)) }
	}
	for c:=range f.Planes { copy(f.Planes[c], res[c]) }
}

// Follows the integral line of vf from pixel (x,y) in direction dir up to the given length, adding weighted
// samples of all planes to sum. Returns the total weight added
func trace(f *Field, vf vectorField, x, y int, dir, length, fsigma2 float64, p Params, sum []float64) float64 {
	w, h:=f.Width, f.Height
	dl:=p.SpatialStep
	X, Y:=float64(x), float64(y)
	pu, pv:=normalized(vf.u[y*w+x]*dir, vf.v[y*w+x]*dir)
	if pu==0 && pv==0 { return 0 }

	weights:=0.0
	for l:=dl; l<=length; l+=dl {
		u, v:=pu, pv
		if p.Interpolation==RungeKutta {
			mu, mv:=vf.at(w, h, X+0.5*dl*pu, Y+0.5*dl*pv, true)
			mu, mv=normalized(mu*dir, mv*dir)
			if mu!=0 || mv!=0 { u, v=mu, mv }
		}
		X+=u*dl
		Y+=v*dl
		if X<0 || Y<0 || X>float64(w-1) || Y>float64(h-1) { break }

		weight:=1.0
		if !p.FastApprox { weight=math.Exp(-l*l/fsigma2) }
		for c, plane:=range f.Planes {
			sum[c]+=weight*samplePlane(plane, w, h, X, Y, p.Interpolation!=Nearest)
		}
		weights+=weight

		nu, nv:=vf.at(w, h, X, Y, p.Interpolation!=Nearest)
		nu, nv=normalized(nu*dir, nv*dir)
		if nu==0 && nv==0 { break }
		pu, pv=nu, nv
	}
	return weights
}

func normalized(u, v float64) (float64, float64) {
	n:=math.Hypot(u, v)
	if n<1e-12 { return 0, 0 }
	return u/n, v/n
}

// Returns the vector field at a subpixel position
func (vf vectorField) at(w, h int, x, y float64, bilinear bool) (u, v float64) {
	return samplePlane(vf.u, w, h, x, y, bilinear), samplePlane(vf.v, w, h, x, y, bilinear)
}

// Samples a plane at a subpixel position within [0,w-1]x[0,h-1], by nearest neighbour or bilinear interpolation
func samplePlane(plane []float64, w, h int, x, y float64, bilinear bool) float64 {
	if !bilinear {
		ix, iy:=int(x+0.5), int(y+0.5)
		ix, iy=min(max(ix, 0), w-1), min(max(iy, 0), h-1)
		return plane[iy*w+ix]
	}
	x0, y0:=int(x), int(y)
	x0, y0=min(max(x0, 0), w-1), min(max(y0, 0), h-1)
	x1, y1:=min(x0+1, w-1), min(y0+1, h-1)
	fx, fy:=x-float64(x0), y-float64(y0)
	top:=plane[y0*w+x0]*(1-fx) + plane[y0*w+x1]*fx
	bot:=plane[y1*w+x0]*(1-fx) + plane[y1*w+x1]*fx
	return top*(1-fy) + bot*fy
}
