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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"time"
	"github.com/klauspost/cpuid"
	"github.com/spf13/cobra"
	"github.com/mlnoga/nightrestore/internal/imageio"
	"github.com/mlnoga/nightrestore/internal/logging"
	"github.com/mlnoga/nightrestore/internal/ops"
	"github.com/mlnoga/nightrestore/internal/sample"
	"github.com/mlnoga/nightrestore/internal/synth"
)

const version = "0.1.0"

// Flags shared by all processing commands
type globalFlags struct {
	log        string
	cpuprofile string
	raw        imageio.RawDesc
	jobs       int
	out        string
	preview    string
	stretch    imageio.Stretch
	synth      bool
	field      synth.FieldParams
	synthKind  sample.Kind
	synthChans int
}

func main() {
	debug.SetGCPercent(10)
	ctx, stop:=signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err:=newRootCmd(ctx).Execute(); err!=nil {
		logging.Fatalf("Error: %s\n", err.Error())
	}
	logging.Close()
}

func newRootCmd(ctx context.Context) *cobra.Command {
	g:=&globalFlags{raw: imageio.RawDesc{Channels: 1, Kind: sample.Uint16}, stretch: imageio.DefaultStretch(),
		field: synth.DefaultFieldParams(512, 512), synthKind: sample.Uint16, synthChans: 1}
	var stopProfile func()

	root:=&cobra.Command{
		Use:   "nightrestore",
		Short: "Nightrestore restores astronomical images",
		Long: `Nightrestore Copyright (c) 2021 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Nightrestore deconvolves images with Wiener or constrained least squares filters,
regularizes them with GREYCstoration anisotropic diffusion, and measures star PSFs.
Inputs are 16-bit TIFF files, raw planar little-endian dumps, or a synthetic star field.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.log!="" {
				if err:=logging.AlsoToFile(g.log); err!=nil { return fmt.Errorf("unable to open logfile '%s': %w", g.log, err) }
			}
			if g.cpuprofile!="" {
				f, err:=os.Create(g.cpuprofile)
				if err!=nil { return fmt.Errorf("could not create CPU profile: %w", err) }
				if err:=pprof.StartCPUProfile(f); err!=nil { return fmt.Errorf("could not start CPU profile: %w", err) }
				stopProfile=func() { pprof.StopCPUProfile(); f.Close() }
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if stopProfile!=nil { stopProfile() }
		},
	}
	root.SetOut(logging.Writer)

	pf:=root.PersistentFlags()
	pf.StringVar(&g.log, "log", "", "save log output to `file` in addition to stdout")
	pf.StringVar(&g.cpuprofile, "cpuprofile", "", "write cpu profile to `file`")
	pf.IntVar(&g.raw.Width, "width", 0, "width of raw input files in pixels")
	pf.IntVar(&g.raw.Height, "height", 0, "height of raw input files in pixels")
	pf.IntVar(&g.raw.Channels, "channels", 1, "nominal channels of raw input files, 1 or 3")
	pf.IntVar(&g.raw.Alpha, "alpha", 0, "alpha channels of raw input files")
	pf.Var(&g.raw.Kind, "kind", "sample kind of raw input files: uint8, uint16, uint32, float32 or float64")
	pf.IntVar(&g.jobs, "jobs", 1, "number of images to process concurrently")
	pf.StringVar(&g.out, "out", "out%d.tif", "save output with given filename `pattern`, %d expands to the image ID; .tif, .jpg or raw dump")
	pf.StringVar(&g.preview, "preview", "", "save a 16-bit TIFF preview with given filename `pattern`")
	pf.Float64Var(&g.stretch.Min, "previewMin", 0, "preview black point")
	pf.Float64Var(&g.stretch.Max, "previewMax", 1, "preview white point")
	pf.Float64Var(&g.stretch.Gamma, "previewGamma", 1, "preview gamma")
	pf.BoolVar(&g.synth, "synth", false, "process a synthetic star field instead of input files")
	pf.IntVar(&g.field.Width, "synthWidth", g.field.Width, "synthetic field width")
	pf.IntVar(&g.field.Height, "synthHeight", g.field.Height, "synthetic field height")
	pf.IntVar(&g.field.Stars, "synthStars", 0, "synthetic field star count, 0 for one per 4096 pixels")
	pf.Float64Var(&g.field.Noise, "synthNoise", g.field.Noise, "synthetic field noise sigma")
	pf.Float64Var(&g.field.Sigma, "synthSigma", g.field.Sigma, "synthetic field mean star sigma")
	pf.Uint32Var(&g.field.Seed, "synthSeed", g.field.Seed, "synthetic field random seed")
	pf.IntVar(&g.synthChans, "synthChannels", 1, "synthetic field nominal channels, 1 or 3")
	pf.Var(&g.synthKind, "synthKind", "synthetic field sample kind")

	root.AddCommand(newDeconvCmd(ctx, g))
	root.AddCommand(newGREYCCmd(ctx, g))
	root.AddCommand(newStarsCmd(ctx, g))
	root.AddCommand(newSynthCmd(ctx, g))
	root.AddCommand(newRunCmd(ctx, g))
	root.AddCommand(newVersionCmd())
	root.AddCommand(newLegalCmd())
	return root
}

// Creates the operator context for a run
func (g *globalFlags) context(ctx context.Context) *ops.Context {
	c:=ops.NewContext(ctx, logging.Writer)
	c.Raw=g.raw
	return c
}

// Returns the operator producing the input frames: a synthetic field, or the given files
func (g *globalFlags) source(args []string) (ops.Operator, error) {
	if g.synth {
		field:=g.field
		if field.Stars==0 { field.Stars=field.Width*field.Height/4096+1 }
		return ops.NewOpSynth(0, field, g.synthChans, g.synthKind), nil
	}
	if len(args)==0 { return nil, fmt.Errorf("%w: no input files, and no synthetic field requested", sample.ErrConfiguration) }
	return ops.NewOpLoadMany(args), nil
}

// Returns the save operators for output and preview
func (g *globalFlags) sinks() []ops.Operator {
	save:=ops.NewOpSave(g.out)
	preview:=ops.NewOpSave(g.preview)
	preview.Stretch=g.stretch
	if g.preview!="" && !strings.HasSuffix(strings.ToLower(g.preview), ".tif") && !strings.HasSuffix(strings.ToLower(g.preview), ".tiff") {
		preview.FilePattern=strings.TrimSuffix(g.preview, filepath.Ext(g.preview))+".tif"
	}
	return []ops.Operator{save, preview}
}

// Runs the given per-image operator on all inputs, then saves the results
func (g *globalFlags) process(ctx context.Context, args []string, op ops.Operator) error {
	source, err:=g.source(args)
	if err!=nil { return err }
	perImage:=ops.NewOpSequence(op)
	perImage.Append(g.sinks()...)
	return g.runSequence(ctx, ops.NewOpSequence(source, ops.NewOpForEach(perImage)))
}

func (g *globalFlags) runSequence(ctx context.Context, seq ops.Operator) error {
	start:=time.Now()
	c:=g.context(ctx)
	logging.Printf("Using %d of %d threads on %d physical cores, %d MiB memory\n", g.jobs, c.MaxThreads, c.PhysicalCores, c.MemoryMB)
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { return err }
	frames, err:=ops.MaterializeAll(promises, g.jobs, false)
	logging.Printf("Processed %d frames in %v\n", len(frames), time.Since(start))
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			logging.Printf("Version %s\n", version)
			logging.Printf("Running on %s with %d physical cores, %d logical cores\n", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)
		},
	}
}

func newLegalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "legal",
		Short: "Show license and attribution information",
		Run: func(cmd *cobra.Command, args []string) {
			logging.Printf("%s", legal)
		},
	}
}
