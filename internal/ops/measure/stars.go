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

package measure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"github.com/mlnoga/nightrestore/internal/ops"
	"github.com/mlnoga/nightrestore/internal/qsort"
	"github.com/mlnoga/nightrestore/internal/star"
)

// Detects stars and optionally fits their point spread functions. Takes n inputs, produces n outputs
type OpStars struct {
	ops.OpUnaryBase
	Detect      star.DetectParams `json:"detect"`
	Fit         bool              `json:"fit"`         // fit a PSF to each star
	Function    star.Function     `json:"function"`    // PSF model
	Circular    bool              `json:"circular"`    // fit circular instead of elliptical PSFs
	CSVPattern  string            `json:"csvPattern"`  // star list output, with %d expanding to the image ID
}

var _ ops.Operator = (*OpStars)(nil) // this type is an Operator
func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpStarsDefault() })} // register the operator for JSON decoding

func NewOpStarsDefault() *OpStars { return NewOpStars(star.DefaultDetectParams(), true, star.Gaussian, false, "") }

func NewOpStars(detect star.DetectParams, fit bool, fn star.Function, circular bool, csvPattern string) *OpStars {
	op:=OpStars{
		OpUnaryBase : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "stars", Active: true}},
		Detect      : detect,
		Fit         : fit,
		Function    : fn,
		Circular    : circular,
		CSVPattern  : csvPattern,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpStars) UnmarshalJSON(data []byte) error {
	type defaults OpStars
	def:=defaults( *NewOpStarsDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpStars(def)
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

// Returns the mean of the nominal channels
func luminance(f *ops.Frame) []float64 {
	n:=f.Image.NumNominal()
	lum:=f.Image.Channel64(0)
	if n==1 { return lum }
	for c:=1; c<n; c++ {
		for i, v:=range f.Image.Channel64(c) { lum[i]+=v }
	}
	inv:=1/float64(n)
	for i:=range lum { lum[i]*=inv }
	return lum
}

func (op *OpStars) Apply(f *ops.Frame, c *ops.Context) (result *ops.Frame, err error) {
	if !op.Active { return f, nil }
	width, _:=f.Image.Dims()
	data:=luminance(f)

	stars, shifts, hfr:=star.FindStars(data, width, op.Detect)
	fmt.Fprintf(c.Log, "%d: Found %d stars with average HFR %.3g, centroid shifts %.3g\n", f.ID, len(stars), hfr, shifts)
	if op.Fit && len(stars)>0 {
		numOk:=star.FitStars(data, width, stars, op.Function, op.Circular)
		fwhms:=make([]float64, 0, numOk)
		eccs :=make([]float64, 0, numOk)
		for _, s:=range stars {
			if s.PSF!=nil && s.PSF.Status==star.FittedOk {
				fwhms=append(fwhms, 0.5*(s.PSF.FWHMx()+s.PSF.FWHMy()))
				eccs =append(eccs,  s.PSF.Eccentricity())
			}
		}
		if numOk>0 {
			fmt.Fprintf(c.Log, "%d: Fitted %d of %d %s PSFs, median FWHM %.3g, median eccentricity %.3g\n", f.ID, numOk, len(stars),
				op.Function, qsort.MedianFloat64(fwhms), qsort.MedianFloat64(eccs))
		} else {
			fmt.Fprintf(c.Log, "%d: Warning: none of %d %s PSF fits converged\n", f.ID, len(stars), op.Function)
		}
	}
	f.Stars=stars

	if op.CSVPattern!="" {
		fileName:=ops.NewOpSave(op.CSVPattern).FileName(f.ID)
		if !ops.IsPathAllowed(fileName) { return nil, fmt.Errorf("%d: filename %s outside current directory tree", f.ID, fileName) }
		fmt.Fprintf(c.Log, "%d: Writing %d stars to %s\n", f.ID, len(stars), fileName)
		if err:=writeStars(fileName, stars); err!=nil { return nil, fmt.Errorf("%d: %w", f.ID, err) }
	}
	return f, nil
}

func writeStars(fileName string, stars []star.Star) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	w:=bufio.NewWriter(file)
	star.PrintStars(w, stars)
	if err:=w.Flush(); err!=nil {
		file.Close()
		return err
	}
	return file.Close()
}
