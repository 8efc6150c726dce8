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


package qsort

// Element types supported by the selection routines
type number interface {
	float32 | float64
}

// Sort an array in ascending order.
// Array must not contain IEEE NaN
func QSort[T number](a []T) {
    if len(a)>1 {
        index := QPartition(a)
        QSort(a[:index+1])
        QSort(a[index+1:])
    }
}

// Partitions an array with the middle pivot element, and returns the pivot index.
// Values less than the pivot are moved left of the pivot, those greater are moved right.
// Array must not contain IEEE NaN
func QPartition[T number](a []T) int {
    left, right:=0, len(a)-1
    mid   := (left+right)>>1
    pivot := a[mid]
    l := left -1
    r := right+1
    for {
        for {
            l++
            if a[l]>=pivot { break }
        }
        for {
            r--
            if a[r]<=pivot { break }
        }
        if l >= r { return r }
        a[l], a[r] = a[r], a[l]
    }
}

// Select kth lowest element from an array, counting from 1. Partially reorders the array.
// Array must not contain IEEE NaN
func QSelect[T number](a []T, k int) T {
    left, right:=0, len(a)-1
    for left<right {
        // partition
        mid:=(left+right)>>1
        pivot := a[mid]
        l, r  := left-1, right+1
        for {
            for {
                l++
                if a[l]>=pivot { break }
            }
            for {
                r--
                if a[r]<=pivot { break }
            }
            if l >= r { break } // index in r
            a[l], a[r] = a[r], a[l]
        }
        index:=r

        offset:=index-left+1
        if k<=offset {
            right=index
        } else {
            left=index+1
            k=k-offset
        }
    }
    return a[left]
}

// Select median of an array. For even lengths, returns the mean of the two central elements.
// Partially reorders the array. Array must not contain IEEE NaN
func QSelectMedian[T number](a []T) T {
    n:=len(a)
    if n==0 { return 0 }
    upper:=QSelect(a, (n>>1)+1)
    if (n&1)!=0 { return upper }
    // after selection, the lower central element is the maximum of the left part
    lower:=a[0]
    for _, v:=range a[:n>>1] {
        if v>lower { lower=v }
    }
    return 0.5*(lower+upper)
}

// Select median of an array of float64. Partially reorders the array.
func QSelectMedianFloat64(a []float64) float64 { return QSelectMedian(a) }

// Median of an array of float64, leaving the input untouched
func MedianFloat64(a []float64) float64 {
    return QSelectMedian(append([]float64(nil), a...))
}
