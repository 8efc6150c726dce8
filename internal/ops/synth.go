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

package ops

import (
	"encoding/json"
	"fmt"
	"github.com/mlnoga/nightrestore/internal/sample"
	"github.com/mlnoga/nightrestore/internal/synth"
)

// Generates a synthetic star field with known sources. Takes zero inputs, produces one output
type OpSynth struct {
	OpBase
	ID       int               `json:"id"`
	Field    synth.FieldParams `json:"field"`
	Channels int               `json:"channels"`   // 1 for gray, 3 for color
	Kind     sample.Kind       `json:"kind"`
	Sources  []synth.Source    `json:"-"`          // rendered sources, set once applied
}

func init() { SetOperatorFactory(func() Operator { return NewOpSynthDefault()}) } // register the operator for JSON decoding

func NewOpSynthDefault() *OpSynth { return NewOpSynth(0, synth.DefaultFieldParams(512, 512), 1, sample.Uint16) }

func NewOpSynth(id int, field synth.FieldParams, channels int, kind sample.Kind) *OpSynth {
	return &OpSynth{
		OpBase   : OpBase{Type: "synth", Active: true},
		ID       : id,
		Field    : field,
		Channels : channels,
		Kind     : kind,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSynth) UnmarshalJSON(data []byte) error {
	type defaults OpSynth
	def:=defaults( *NewOpSynthDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpSynth(def)
	return nil
}

func (op *OpSynth) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, fmt.Errorf("%s operator with non-zero input", op.Type) }
	return []Promise{ func() (*Frame, error) { return op.Apply(nil, c) } }, nil
}

// Renders the field into every nominal channel, dimming each further color channel by 10%
func (op *OpSynth) Apply(f *Frame, c *Context) (result *Frame, err error) {
	if op.Channels!=1 && op.Channels!=3 {
		return nil, fmt.Errorf("%w: synthetic field with %d channels", sample.ErrConfiguration, op.Channels)
	}
	if op.Field.Width<=0 || op.Field.Height<=0 {
		return nil, fmt.Errorf("%w: synthetic field of %dx%d pixels", sample.ErrConfiguration, op.Field.Width, op.Field.Height)
	}
	data, sources:=synth.Field(op.Field)
	img, err:=sample.NewOfKind(op.Kind, op.Field.Width, op.Field.Height, op.Channels, 0)
	if err!=nil { return nil, err }
	scaled:=make([]float64, len(data))
	for ch:=0; ch<op.Channels; ch++ {
		factor:=1-0.1*float64(ch)
		for i, v:=range data { scaled[i]=v*factor }
		img.SetChannel64(ch, scaled)
	}
	op.Sources=sources
	f=&Frame{ID: op.ID, FileName: fmt.Sprintf("synth-%d", op.Field.Seed), Image: img}
	fmt.Fprintf(c.Log, "%d: Synthesized %s field with %d stars, background %.3g and noise %.3g\n",
		f.ID, f.DimensionsToString(), len(sources), op.Field.Background, op.Field.Noise)
	return f, nil
}
