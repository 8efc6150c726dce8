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
	"github.com/mlnoga/nightrestore/internal/greyc"
	"github.com/mlnoga/nightrestore/internal/ops"
)

// Regularizes each image with GREYCstoration anisotropic diffusion. Takes n inputs, produces n outputs
type OpGREYCstoration struct {
	ops.OpUnaryBase
	Params greyc.Params `json:"params"`
}

var _ ops.Operator = (*OpGREYCstoration)(nil) // this type is an Operator
func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpGREYCstorationDefault() })} // register the operator for JSON decoding

func NewOpGREYCstorationDefault() *OpGREYCstoration { return NewOpGREYCstoration(greyc.DefaultParams()) }

func NewOpGREYCstoration(params greyc.Params) *OpGREYCstoration {
	op:=OpGREYCstoration{
		OpUnaryBase : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "greycstoration", Active: true}},
		Params      : params,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpGREYCstoration) UnmarshalJSON(data []byte) error {
	type defaults OpGREYCstoration
	def:=defaults( *NewOpGREYCstorationDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpGREYCstoration(def)
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

func (op *OpGREYCstoration) Apply(f *ops.Frame, c *ops.Context) (result *ops.Frame, err error) {
	if !op.Active { return f, nil }
	params:=op.Params
	if params.Threads==0 { params.Threads=c.PhysicalCores }

	fmt.Fprintf(c.Log, "%d: GREYCstoration amplitude %g sharpness %g anisotropy %g, %s interpolation on %d threads\n",
		f.ID, params.Amplitude, params.Sharpness, params.Anisotropy, params.Interpolation, params.Threads)
	if err:=greyc.Restore(f.Image, params, c.Monitor(f.ID), c.Log); err!=nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Regularized to %v\n", f.ID, f.Stats())
	return f, nil
}
