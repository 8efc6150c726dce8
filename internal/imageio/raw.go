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

package imageio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// Describes a raw planar little-endian sample dump: all planes of one channel after another,
// nominal channels first, then alpha
type RawDesc struct {
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	Channels int          `json:"channels"`  // nominal channels, 1 or 3
	Alpha    int          `json:"alpha"`     // additional alpha channels
	Kind     sample.Kind  `json:"kind"`
}

// Returns the size of the described dump in bytes
func (d RawDesc) Size() int64 {
	return int64(d.Width)*int64(d.Height)*int64(d.Channels+d.Alpha)*int64(d.Kind.Bits()/8)
}

// Reads a raw planar dump into a new buffer of the described kind
func ReadRaw(reader io.Reader, d RawDesc) (sample.Image, error) {
	if d.Width<=0 || d.Height<=0 || (d.Channels!=1 && d.Channels!=3) || d.Alpha<0 {
		return nil, fmt.Errorf("%w: raw layout %dx%dx%d+%d", sample.ErrConfiguration, d.Width, d.Height, d.Channels, d.Alpha)
	}
	switch d.Kind {
	case sample.Uint8:   return readPlanes[uint8  ](reader, d)
	case sample.Uint16:  return readPlanes[uint16 ](reader, d)
	case sample.Uint32:  return readPlanes[uint32 ](reader, d)
	case sample.Float32: return readPlanes[float32](reader, d)
	case sample.Float64: return readPlanes[float64](reader, d)
	}
	return nil, fmt.Errorf("%w: raw %s samples", sample.ErrUnsupported, d.Kind)
}

func readPlanes[T sample.Sample](reader io.Reader, d RawDesc) (*sample.Buffer[T], error) {
	b:=sample.New[T](d.Width, d.Height, d.Channels, d.Alpha)
	for c, p:=range b.Planes {
		if err:=binary.Read(reader, binary.LittleEndian, p); err!=nil {
			return nil, fmt.Errorf("reading plane %d: %w", c, err)
		}
	}
	return b, nil
}

// Reads a raw planar dump from a file
func ReadRawFromFile(fileName string, d RawDesc) (sample.Image, error) {
	file, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer file.Close()
	if fi, err:=file.Stat(); err==nil && d.Width>0 && d.Height>0 && fi.Size()!=d.Size() {
		return nil, fmt.Errorf("%s: %w: %d bytes, layout %dx%dx%d+%d %s needs %d", fileName, sample.ErrConfiguration,
		                       fi.Size(), d.Width, d.Height, d.Channels, d.Alpha, d.Kind, d.Size())
	}
	res, err:=ReadRaw(bufio.NewReader(file), d)
	if err!=nil { return nil, fmt.Errorf("%s: %w", fileName, err) }
	return res, nil
}

// Writes all planes of a buffer as raw little-endian dump, and returns its layout
func WriteRaw(writer io.Writer, img sample.Image) (RawDesc, error) {
	switch b:=img.(type) {
	case *sample.Buffer[uint8]:   return writePlanes(writer, b)
	case *sample.Buffer[uint16]:  return writePlanes(writer, b)
	case *sample.Buffer[uint32]:  return writePlanes(writer, b)
	case *sample.Buffer[float32]: return writePlanes(writer, b)
	case *sample.Buffer[float64]: return writePlanes(writer, b)
	}
	return RawDesc{}, fmt.Errorf("%w: cannot dump %T", sample.ErrUnsupported, img)
}

func writePlanes[T sample.Sample](writer io.Writer, b *sample.Buffer[T]) (RawDesc, error) {
	d:=RawDesc{Width: b.Width, Height: b.Height, Channels: b.Nominal, Alpha: b.NumAlpha(), Kind: b.SampleKind()}
	for c, p:=range b.Planes {
		if err:=binary.Write(writer, binary.LittleEndian, p); err!=nil {
			return d, fmt.Errorf("writing plane %d: %w", c, err)
		}
	}
	return d, nil
}

// Writes all planes of a buffer to a raw dump file
func WriteRawToFile(fileName string, img sample.Image) (RawDesc, error) {
	var d RawDesc
	err:=writeFile(fileName, func(w io.Writer) error {
		var err error
		d, err=WriteRaw(w, img)
		return err
	})
	return d, err
}
