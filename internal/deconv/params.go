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
	"encoding/json"
	"fmt"
	"strings"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// Frequency domain filter algorithm
type Algorithm int
const (
	Wiener Algorithm = iota
	ConstrainedLeastSquares
)

var algorithmNames=[]string{"wiener", "cls"}

func (a Algorithm) String() string {
	if a>=0 && int(a)<len(algorithmNames) { return algorithmNames[a] }
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

func (a Algorithm) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Algorithm) UnmarshalJSON(data []byte) error {
	var s string
	if err:=json.Unmarshal(data, &s); err!=nil { return err }
	return a.Set(s)
}

// Parses an algorithm name, for flags and config files
func (a *Algorithm) Set(s string) error {
	for i, n:=range algorithmNames {
		if strings.EqualFold(s, n) {
			*a=Algorithm(i)
			return nil
		}
	}
	if strings.EqualFold(s, "constrainedleastsquares") {
		*a=ConstrainedLeastSquares
		return nil
	}
	return fmt.Errorf("%w: unknown algorithm %q", sample.ErrConfiguration, s)
}

func (a *Algorithm) Type() string { return "algorithm" }


// Parameters of the restoration engine
type Params struct {
	Algorithm           Algorithm `json:"algorithm"`           // Wiener or constrained least squares
	K                   float64   `json:"k"`                   // Wiener noise to signal ratio
	Gamma               float64   `json:"gamma"`               // CLS regularization weight
	Amount              float64   `json:"amount"`              // Blend factor with the original, 0..1
	ToLuminance         bool      `json:"toLuminance"`         // Restore CIE L* of color images only
	Deringing           bool      `json:"deringing"`           // Apply deringing correction
	DeringingDark       float64   `json:"deringingDark"`       // Strength of dark ring correction, 0..1
	DeringingBright     float64   `json:"deringingBright"`     // Strength of bright ring correction, 0..1
	OutputDeringingMaps bool      `json:"outputDeringingMaps"` // Return the correction maps
	RangeLow            float64   `json:"rangeLow"`            // Range extension below zero
	RangeHigh           float64   `json:"rangeHigh"`           // Range extension above one
	MaxMemoryMB         int64     `json:"-"`                   // Working set limit, 0 for unlimited
}

// Returns the default parameters
func DefaultParams() Params {
	return Params{
		Algorithm:       Wiener,
		K:               0.01,
		Gamma:           0.01,
		Amount:          1,
		ToLuminance:     true,
		Deringing:       false,
		DeringingDark:   0.1,
		DeringingBright: 0,
	}
}

// Checks parameter ranges
func (p *Params) Validate() error {
	switch p.Algorithm {
	case Wiener:
		if !(p.K>0) { return fmt.Errorf("%w: K %g must be positive", sample.ErrConfiguration, p.K) }
	case ConstrainedLeastSquares:
		if !(p.Gamma>0) { return fmt.Errorf("%w: gamma %g must be positive", sample.ErrConfiguration, p.Gamma) }
	default:
		return fmt.Errorf("%w: unknown algorithm %d", sample.ErrConfiguration, int(p.Algorithm))
	}
	if !(p.Amount>=0 && p.Amount<=1) {
		return fmt.Errorf("%w: amount %g must be in [0,1]", sample.ErrConfiguration, p.Amount)
	}
	if !(p.DeringingDark>=0 && p.DeringingDark<=1) || !(p.DeringingBright>=0 && p.DeringingBright<=1) {
		return fmt.Errorf("%w: deringing strengths %g/%g must be in [0,1]", sample.ErrConfiguration, p.DeringingDark, p.DeringingBright)
	}
	if !(p.RangeLow>=0) || !(p.RangeHigh>=0) {
		return fmt.Errorf("%w: range extensions %g/%g must not be negative", sample.ErrConfiguration, p.RangeLow, p.RangeHigh)
	}
	return nil
}
