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


package sample

import (
	"errors"
)

// Error kinds shared by all engines. Wrap with fmt.Errorf("%w: ...") and test with errors.Is
var (
	ErrUnsupported   = errors.New("unsupported image")         // complex samples, bad channel layout
	ErrConfiguration = errors.New("invalid configuration")     // bad parameters, missing or color external PSF
	ErrGeometry      = errors.New("incompatible geometry")     // kernel larger than target image
	ErrEmptyKernel   = errors.New("empty or singular kernel")  // kernel sum numerically zero
	ErrResource      = errors.New("insufficient resources")    // working set exceeds memory budget
	ErrAborted       = errors.New("process aborted")           // host requested cancellation
)
