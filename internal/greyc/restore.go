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

// Package greyc regularizes images with GREYCstoration anisotropic diffusion, running the
// diffusion on overlapping row bands in parallel
package greyc

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"
	"github.com/mlnoga/nightrestore/internal/progress"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// Interval at which the coordinator drains worker progress into the monitor
var PollInterval=50*time.Millisecond

// The diffusion primitive applied to each tile
var smoothTile=Smooth

// Checks whether the engine can run on the given image
func CanExecuteOn(img sample.Image) error {
	return sample.CheckReal(img)
}

// Regularizes the nominal channels of img in place. Alpha channels are never read nor written.
// Each iteration splits the image into overlapping row bands, diffuses them in parallel and
// reassembles the band rows. If the monitor aborts or a worker fails, all workers are allowed
// to finish their tile, and the image is left unmodified
func Restore(img sample.Image, params Params, monitor progress.Monitor, logWriter io.Writer) error {
	if logWriter==nil { logWriter=io.Discard }
	if monitor==nil { monitor=progress.NullMonitor{} }
	if err:=CanExecuteOn(img); err!=nil { return err }
	if err:=params.Validate(); err!=nil { return err }

	work:=sample.Nominal64(img)
	w, h:=work.Width, work.Height
	overlap:=Overlap(params.Amplitude)
	bands:=Bands(h, overlap, params.Threads)

	// coupled mode diffuses all channels as one field, otherwise each channel on its own
	groups:=[][]int{}
	if params.CoupledChannels || work.Nominal==1 {
		all:=make([]int, work.Nominal)
		for c:=range all { all[c]=c }
		groups=append(groups, all)
	} else {
		for c:=0; c<work.Nominal; c++ { groups=append(groups, []int{c}) }
	}

	tileRows:=0
	for _, b:=range bands { tileRows+=b.Rows()+2*overlap }
	total:=int64(params.Iterations)*int64(len(groups))*int64(tileRows)*int64(w)
	monitor.Initialize(fmt.Sprintf("GREYCstoration: %d iterations", params.Iterations), total)
	fmt.Fprintf(logWriter, "GREYCstoration %dx%d: %d bands, overlap %d, %d channel groups, %d iterations\n",
		w, h, len(bands), overlap, len(groups), params.Iterations)

	start:=time.Now()
	for it:=0; it<params.Iterations; it++ {
		for _, group:=range groups {
			planes:=make([][]float64, len(group))
			for i, c:=range group { planes[i], work.Planes[c]=work.Planes[c], nil }
			res, err:=diffuseBands(planes, w, h, bands, overlap, params, monitor)
			if err!=nil { return err }
			for i, c:=range group { work.Planes[c]=res[i] }
		}
		if img.SampleKind().IsFloat() { renormalize(work) }
	}
	fmt.Fprintf(logWriter, "GREYCstoration done in %v\n", time.Since(start))

	sample.StoreNominal64(img, work)
	return nil
}

// Runs one diffusion pass over all bands in parallel. The source planes are released once the
// tiles are built, and fresh planes are returned after all workers have finished
func diffuseBands(planes [][]float64, w, h int, bands []Band, overlap int, params Params, monitor progress.Monitor) ([][]float64, error) {
	tiles:=make([]*Tile, len(bands))
	for i, b:=range bands {
		tiles[i]=BuildTile(planes, w, h, b, overlap)
	}
	for i:=range planes { planes[i]=nil }
	debug.FreeOSMemory()

	state:=&progress.State{}
	errs:=make([]error, len(tiles))
	var wg sync.WaitGroup
	for i, t:=range tiles {
		wg.Add(1)
		go func(i int, t *Tile) {
			defer wg.Done()
			defer func() {
				if r:=recover(); r!=nil {
					errs[i]=fmt.Errorf("band %d rows %d-%d: %v", i, t.Band.Y0, t.Band.Y1, r)
					state.Abort()
				}
			}()
			if state.Aborted() { return }
			smoothTile(&t.Field, params, state)
		}(i, t)
	}
	done:=make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	var monitorErr error
	for running:=true; running; {
		select {
		case <-done:
			running=false
		case <-time.After(PollInterval):
		}
		if n:=state.Drain(); n>0 && monitorErr==nil {
			if err:=monitor.Add(n); err!=nil {
				monitorErr=err
				state.Abort()
			}
		}
	}

	if monitorErr!=nil { return nil, monitorErr }
	if err:=errors.Join(errs...); err!=nil { return nil, err }

	res:=make([][]float64, len(tiles[0].Planes))
	for i:=range res { res[i]=make([]float64, w*h) }
	for _, t:=range tiles { t.Store(res) }
	return res, nil
}

// Rescales planes into [0,1] if their joint range leaves it
func renormalize(work *sample.Buffer[float64]) {
	lo, hi:=work.MinMax()
	lo, hi=min(lo, 0), max(hi, 1)
	if lo==0 && hi==1 { return }
	scale:=1/(hi-lo)
	for _, p:=range work.Planes {
		for i, v:=range p { p[i]=(v-lo)*scale }
	}
}
