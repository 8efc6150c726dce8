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
	"github.com/mlnoga/nightrestore/internal/qsort"
)

// Offset avoiding divisions by zero in the ratio image
const deringingEpsilon=1.0/65535

// Computes the ratio of restored to original per channel, and pulls pixels whose ratio deviates from
// the channel median back towards the original. Pixels darker than typical are corrected with
// the dark strength, brighter ones with the bright strength. Returns the applied correction weights
func dering(restored, original [][]float64, dark, bright float64) (darkMap, brightMap [][]float64) {
	darkMap  =make([][]float64, len(restored))
	brightMap=make([][]float64, len(restored))
	for c, p:=range restored {
		o:=original[c]
		darkMap[c]  =make([]float64, len(p))
		brightMap[c]=make([]float64, len(p))

		// ratio image, rescaled to [0,1]
		ratio:=make([]float64, len(p))
		min, max:=ratio[0], ratio[0]
		for i:=range p {
			r:=(p[i]+deringingEpsilon)/(o[i]+deringingEpsilon)
			ratio[i]=r
			if i==0 || r<min { min=r }
			if i==0 || r>max { max=r }
		}
		if !(max>min) { continue }
		scale:=1/(max-min)
		for i, r:=range ratio {
			ratio[i]=(r-min)*scale
		}
		median:=qsort.MedianFloat64(ratio)

		for i, r:=range ratio {
			if r<median && dark>0 {
				wt:=(median-r)/median
				if wt>1 { wt=1 }
				darkMap[c][i]=dark*wt
				p[i]+=dark*wt*(o[i]-p[i])
			} else if r>median && bright>0 && median<1 {
				wt:=(r-median)/(1-median)
				if wt>1 { wt=1 }
				brightMap[c][i]=bright*wt
				p[i]-=bright*wt*(p[i]-o[i])
			}
		}
	}
	return darkMap, brightMap
}
