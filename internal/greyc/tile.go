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
	"runtime"
	"github.com/mlnoga/nightrestore/internal/fft"
)

// Returns the overlap depth in rows between neighbouring bands for the given amplitude
func Overlap(amplitude float64) int {
	return max(6, int(math.Round(0.25*amplitude)))
}

// A horizontal band of image rows [Y0,Y1) owned by one worker
type Band struct {
	Index int
	Y0    int
	Y1    int
}

func (b Band) Rows() int { return b.Y1-b.Y0 }

// Partitions height rows into at most threads bands. Each band spans at least twice the
// overlap, so a tile holds more own rows than borrowed ones. Threads<=0 means one per CPU
func Bands(height, overlap, threads int) []Band {
	if height<=0 { return nil }
	if threads<=0 { threads=runtime.GOMAXPROCS(0) }
	rowsPerThread:=max(2*overlap, (height+threads-1)/threads, 1)
	bands:=[]Band{}
	for y0:=0; y0<height; y0+=rowsPerThread {
		bands=append(bands, Band{Index: len(bands), Y0: y0, Y1: min(y0+rowsPerThread, height)})
	}
	return bands
}

// A worker's private copy of one band plus overlap rows above and below
type Tile struct {
	Field
	Band    Band
	Overlap int
}

// Builds a fresh tile for the band from the given planes. Overlap rows are copied from the
// neighbouring bands, or mirrored at the image borders
func BuildTile(planes [][]float64, width, height int, b Band, overlap int) *Tile {
	rows:=b.Rows()+2*overlap
	t:=&Tile{
		Field:   Field{Width: width, Height: rows, Planes: make([][]float64, len(planes))},
		Band:    b,
		Overlap: overlap,
	}
	for c, src:=range planes {
		dst:=make([]float64, width*rows)
		for ty:=0; ty<rows; ty++ {
			sy:=fft.ReflectIndex(b.Y0-overlap+ty, height)
			copy(dst[ty*width:(ty+1)*width], src[sy*width:(sy+1)*width])
		}
		t.Planes[c]=dst
	}
	return t
}

// Copies the band rows of the tile back into the given planes, discarding the overlap
func (t *Tile) Store(planes [][]float64) {
	w:=t.Width
	for c, dst:=range planes {
		src:=t.Planes[c][t.Overlap*w:(t.Overlap+t.Band.Rows())*w]
		copy(dst[t.Band.Y0*w:t.Band.Y1*w], src)
	}
}
