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

// Package imageio reads and writes sample buffers as 16-bit TIFF, JPEG previews and raw planar dumps
package imageio

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"
	"golang.org/x/image/tiff"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// Tone mapping for previews: samples are mapped from [Min,Max] to [0,1], then raised to 1/Gamma
type Stretch struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Gamma float64 `json:"gamma"`
}

// Returns the identity stretch
func DefaultStretch() Stretch { return Stretch{0, 1, 1} }

func (s Stretch) apply(v float64) float64 {
	v=(v-s.Min)/(s.Max-s.Min)
	// replace NaNs with zeros for export, else the encoders break
	if math.IsNaN(v) || v<0 { v=0 }
	if v>1 { v=1 }
	if s.Gamma!=1 && s.Gamma>0 { v=math.Pow(v, 1/s.Gamma) }
	return v
}

// Converts the image into a Go image with 16 bits per channel. Gray images become Gray16,
// color images NRGBA64. The first alpha channel, if any, is carried over unstretched
func toImage16(img sample.Image, s Stretch) (image.Image, error) {
	if err:=sample.CheckReal(img); err!=nil { return nil, err }
	w, h:=img.Dims()
	rect:=image.Rect(0, 0, w, h)
	if img.NumNominal()==1 && img.NumChannels()==1 {
		gray:=img.Channel64(0)
		res:=image.NewGray16(rect)
		for y:=0; y<h; y++ {
			for x:=0; x<w; x++ {
				res.SetGray16(x, y, color.Gray16{uint16(math.Round(s.apply(gray[y*w+x])*65535))})
			}
		}
		return res, nil
	}

	planes:=make([][]float64, 3)
	for c:=range planes {
		if c<img.NumNominal() { planes[c]=img.Channel64(c) } else { planes[c]=planes[0] }
	}
	var alpha []float64
	if img.NumChannels()>img.NumNominal() { alpha=img.Channel64(img.NumNominal()) }
	res:=image.NewNRGBA64(rect)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			i:=y*w+x
			a:=uint16(65535)
			if alpha!=nil { a=uint16(math.Round(math.Max(0, math.Min(1, alpha[i]))*65535)) }
			res.SetNRGBA64(x, y, color.NRGBA64{
				uint16(math.Round(s.apply(planes[0][i])*65535)),
				uint16(math.Round(s.apply(planes[1][i])*65535)),
				uint16(math.Round(s.apply(planes[2][i])*65535)),
				a,
			})
		}
	}
	return res, nil
}

// Writes an image as 16-bit TIFF with the given stretch
func WriteTIFF16(writer io.Writer, img sample.Image, s Stretch) error {
	m, err:=toImage16(img, s)
	if err!=nil { return err }
	return tiff.Encode(writer, m, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Writes an image as 16-bit TIFF file with the given stretch
func WriteTIFF16ToFile(fileName string, img sample.Image, s Stretch) error {
	return writeFile(fileName, func(w io.Writer) error { return WriteTIFF16(w, img, s) })
}

// Writes an image as JPEG with the given stretch and quality
func WriteJPG(writer io.Writer, img sample.Image, s Stretch, quality int) error {
	m, err:=toImage16(img, s)
	if err!=nil { return err }
	return jpeg.Encode(writer, m, &jpeg.Options{Quality: quality})
}

// Writes an image as JPEG file with the given stretch and quality
func WriteJPGToFile(fileName string, img sample.Image, s Stretch, quality int) error {
	return writeFile(fileName, func(w io.Writer) error { return WriteJPG(w, img, s, quality) })
}

func writeFile(fileName string, write func(io.Writer) error) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	writer:=bufio.NewWriter(file)
	if err:=write(writer); err!=nil {
		file.Close()
		return err
	}
	if err:=writer.Flush(); err!=nil {
		file.Close()
		return err
	}
	return file.Close()
}


// Reads a color or grayscale TIFF image into a 16-bit buffer. Color images with
// any transparent pixel get one alpha channel
func ReadTIFF(reader io.Reader) (*sample.Buffer[uint16], error) {
	t, err:=tiff.Decode(reader)
	if err!=nil { return nil, err }
	b:=t.Bounds()
	width, height:=b.Dx(), b.Dy()

	switch t.ColorModel() {
	case color.Gray16Model, color.GrayModel:
		res:=sample.New[uint16](width, height, 1, 0)
		for y:=0; y<height; y++ {
			for x:=0; x<width; x++ {
				res.Planes[0][y*width+x]=color.Gray16Model.Convert(t.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y
			}
		}
		return res, nil
	}

	res:=sample.New[uint16](width, height, 3, 1)
	opaque:=true
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			c:=color.NRGBA64Model.Convert(t.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i:=y*width+x
			res.Planes[0][i], res.Planes[1][i], res.Planes[2][i], res.Planes[3][i]=c.R, c.G, c.B, c.A
			if c.A!=65535 { opaque=false }
		}
	}
	if opaque { res.DetachAlpha() }
	return res, nil
}

// Reads a TIFF file into a 16-bit buffer
func ReadTIFFFromFile(fileName string) (*sample.Buffer[uint16], error) {
	file, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer file.Close()
	res, err:=ReadTIFF(bufio.NewReader(file))
	if err!=nil { return nil, fmt.Errorf("%s: %w", fileName, err) }
	return res, nil
}
