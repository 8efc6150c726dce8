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
	"encoding/json"
	"fmt"
	"strings"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// Interpolation used when tracing integral lines through the diffusion tensor field
type Interpolation int
const (
	Nearest Interpolation = iota  // nearest neighbour, fastest
	Linear                        // bilinear
	RungeKutta                    // bilinear with second order Runge-Kutta steps
)

var interpolationNames=[]string{"nearest", "linear", "rk2"}

func (i Interpolation) String() string {
	if i>=0 && int(i)<len(interpolationNames) { return interpolationNames[i] }
	return fmt.Sprintf("Interpolation(%d)", int(i))
}

func (i Interpolation) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

func (i *Interpolation) UnmarshalJSON(data []byte) error {
	var s string
	if err:=json.Unmarshal(data, &s); err!=nil { return err }
	return i.Set(s)
}

// Parses an interpolation name, for flags and config files
func (i *Interpolation) Set(s string) error {
	for j, n:=range interpolationNames {
		if strings.EqualFold(s, n) {
			*i=Interpolation(j)
			return nil
		}
	}
	switch strings.ToLower(s) {
	case "bilinear":  *i=Linear;     return nil
	case "rungekutta": *i=RungeKutta; return nil
	}
	return fmt.Errorf("%w: unknown interpolation %q", sample.ErrConfiguration, s)
}

func (i *Interpolation) Type() string { return "interpolation" }


// Parameters of the diffusion engine
type Params struct {
	Amplitude       float64       `json:"amplitude"`       // Regularization strength per iteration
	Iterations      int           `json:"iterations"`      // Number of iterations
	Sharpness       float64       `json:"sharpness"`       // Contour preservation
	Anisotropy      float64       `json:"anisotropy"`      // Smoothing anisotropy, 0..1
	Alpha           float64       `json:"alpha"`           // Noise scale, sigma of the pre-blur for gradients
	Sigma           float64       `json:"sigma"`           // Geometry regularity, sigma of the tensor blur
	SpatialStep     float64       `json:"spatialStep"`     // Integration step along integral lines, in pixels
	AngularStep     float64       `json:"angularStep"`     // Angular step between integration directions, in degrees
	Precision       float64       `json:"precision"`       // Integral line length in units of the local gaussian sigma
	Interpolation   Interpolation `json:"interpolation"`   // Tracing interpolation
	FastApprox      bool          `json:"fastApprox"`      // Use constant instead of gaussian weights along lines
	CoupledChannels bool          `json:"coupledChannels"` // Diffuse all channels jointly with one tensor field
	Threads         int           `json:"threads"`         // Number of row bands, 0 for one per CPU
}

// Returns the default parameters
func DefaultParams() Params {
	return Params{
		Amplitude:       60,
		Iterations:      1,
		Sharpness:       0.8,
		Anisotropy:      0.2,
		Alpha:           0.6,
		Sigma:           1.1,
		SpatialStep:     0.8,
		AngularStep:     30,
		Precision:       2,
		Interpolation:   Linear,
		FastApprox:      true,
		CoupledChannels: true,
	}
}

// Checks parameter ranges
func (p *Params) Validate() error {
	if !(p.Amplitude>=0) {
		return fmt.Errorf("%w: amplitude %g must not be negative", sample.ErrConfiguration, p.Amplitude)
	}
	if p.Iterations<1 {
		return fmt.Errorf("%w: %d iterations, need at least one", sample.ErrConfiguration, p.Iterations)
	}
	if !(p.Sharpness>=0) {
		return fmt.Errorf("%w: sharpness %g must not be negative", sample.ErrConfiguration, p.Sharpness)
	}
	if !(p.Anisotropy>=0 && p.Anisotropy<=1) {
		return fmt.Errorf("%w: anisotropy %g must be in [0,1]", sample.ErrConfiguration, p.Anisotropy)
	}
	if !(p.Alpha>=0) || !(p.Sigma>=0) {
		return fmt.Errorf("%w: noise scale %g and regularity %g must not be negative", sample.ErrConfiguration, p.Alpha, p.Sigma)
	}
	if !(p.SpatialStep>0) {
		return fmt.Errorf("%w: spatial step %g must be positive", sample.ErrConfiguration, p.SpatialStep)
	}
	if !(p.AngularStep>=1 && p.AngularStep<=180) {
		return fmt.Errorf("%w: angular step %g must be in [1,180]", sample.ErrConfiguration, p.AngularStep)
	}
	if !(p.Precision>0) {
		return fmt.Errorf("%w: precision %g must be positive", sample.ErrConfiguration, p.Precision)
	}
	if p.Interpolation<Nearest || p.Interpolation>RungeKutta {
		return fmt.Errorf("%w: unknown interpolation %d", sample.ErrConfiguration, int(p.Interpolation))
	}
	if p.Threads<0 {
		return fmt.Errorf("%w: %d threads", sample.ErrConfiguration, p.Threads)
	}
	return nil
}
