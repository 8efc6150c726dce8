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
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// CIE L*a*b* decomposition of a linear RGB working buffer. L is in [0,1]
type luminance struct {
	L, A, B []float64
}

func toLuminance(work *sample.Buffer[float64]) *luminance {
	n:=len(work.Planes[0])
	lum:=&luminance{L: make([]float64, n), A: make([]float64, n), B: make([]float64, n)}
	r, g, b:=work.Planes[0], work.Planes[1], work.Planes[2]
	for i:=range lum.L {
		lum.L[i], lum.A[i], lum.B[i]=colorful.LinearRgb(r[i], g[i], b[i]).Lab()
	}
	return lum
}

// Recombines the lightness with the stored chroma into the RGB planes of work
func (lum *luminance) toRGB(work *sample.Buffer[float64]) {
	r, g, b:=work.Planes[0], work.Planes[1], work.Planes[2]
	for i, l:=range lum.L {
		r[i], g[i], b[i]=colorful.Lab(l, lum.A[i], lum.B[i]).LinearRgb()
	}
}
