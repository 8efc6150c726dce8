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
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"github.com/mlnoga/nightrestore/internal/deconv"
	"github.com/mlnoga/nightrestore/internal/imageio"
	"github.com/mlnoga/nightrestore/internal/ops"
	"github.com/mlnoga/nightrestore/internal/psf"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// Describes the point spread function to deconvolve with
type PSFSpec struct {
	Kind   string  `json:"kind"`    // parametric, motion or external
	Sigma  float64 `json:"sigma"`   // parametric: standard deviation in pixels
	Shape  float64 `json:"shape"`   // parametric: 2 for a Gaussian
	Aspect float64 `json:"aspect"`  // parametric: minor to major axis ratio
	Angle  float64 `json:"angle"`   // rotation in degrees, counterclockwise
	Length float64 `json:"length"`  // motion: blur length in pixels
	File   string  `json:"file"`    // external: grayscale TIFF with the PSF image
}

func DefaultPSFSpec() PSFSpec {
	return PSFSpec{Kind: "parametric", Sigma: 2, Shape: 2, Aspect: 1}
}

// Builds the kernel described by the spec. External kernels are looked up in lib by file name
func (s PSFSpec) Kernel(lib psf.Library) (*psf.Kernel, error) {
	switch strings.ToLower(s.Kind) {
	case "parametric", "": return psf.Parametric(s.Sigma, s.Shape, s.Aspect, s.Angle)
	case "motion":         return psf.Motion(s.Length, s.Angle)
	case "external":       return psf.External(lib, s.File)
	}
	return nil, fmt.Errorf("%w: unknown PSF kind %q", sample.ErrConfiguration, s.Kind)
}

func (s PSFSpec) String() string {
	switch strings.ToLower(s.Kind) {
	case "motion":   return fmt.Sprintf("motion PSF length %g angle %g", s.Length, s.Angle)
	case "external": return fmt.Sprintf("external PSF %s", s.File)
	}
	return fmt.Sprintf("parametric PSF sigma %g shape %g aspect %g angle %g", s.Sigma, s.Shape, s.Aspect, s.Angle)
}


// A PSF library backed by TIFF files in the current directory tree. Images are loaded once
type FileLibrary struct {
	mutex  sync.Mutex
	images map[string]sample.Image
}

func NewFileLibrary() *FileLibrary {
	return &FileLibrary{images: map[string]sample.Image{}}
}

func (l *FileLibrary) Lookup(id string) (sample.Image, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if img, ok:=l.images[id]; ok { return img, true }
	if !ops.IsPathAllowed(id) { return nil, false }
	img, err:=imageio.ReadTIFFFromFile(id)
	if err!=nil { return nil, false }
	l.images[id]=img
	return img, true
}


// Deconvolves each image with a point spread function. Takes n inputs, produces n outputs
type OpDeconvolve struct {
	ops.OpUnaryBase
	PSF        PSFSpec        `json:"psf"`
	Params     deconv.Params  `json:"params"`
	Library    psf.Library    `json:"-"`
}

var _ ops.Operator = (*OpDeconvolve)(nil) // this type is an Operator
func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDeconvolveDefault() })} // register the operator for JSON decoding

func NewOpDeconvolveDefault() *OpDeconvolve { return NewOpDeconvolve(DefaultPSFSpec(), deconv.DefaultParams()) }

func NewOpDeconvolve(spec PSFSpec, params deconv.Params) *OpDeconvolve {
	op:=OpDeconvolve{
		OpUnaryBase : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "deconvolve", Active: true}},
		PSF         : spec,
		Params      : params,
		Library     : NewFileLibrary(),
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpDeconvolve) UnmarshalJSON(data []byte) error {
	type defaults OpDeconvolve
	def:=defaults( *NewOpDeconvolveDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpDeconvolve(def)
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

func (op *OpDeconvolve) Apply(f *ops.Frame, c *ops.Context) (result *ops.Frame, err error) {
	if !op.Active { return f, nil }
	kernel, err:=op.PSF.Kernel(op.Library)
	if err!=nil { return nil, fmt.Errorf("%d: %w", f.ID, err) }
	params:=op.Params
	params.MaxMemoryMB=int64(c.EngineMemoryMB)

	fmt.Fprintf(c.Log, "%d: Deconvolving with %s (%v) using %s, amount %.2f\n", f.ID, op.PSF, kernel, params.Algorithm, params.Amount)
	res, err:=deconv.Restore(f.Image, kernel, params, c.Monitor(f.ID), c.Log)
	if err!=nil { return nil, fmt.Errorf("%d: %w", f.ID, err) }
	if res!=nil && res.DarkMap!=nil {
		f.Maps=append(f.Maps, res.DarkMap, res.BrightMap)
	}
	fmt.Fprintf(c.Log, "%d: Deconvolved to %v\n", f.ID, f.Stats())
	return f, nil
}
