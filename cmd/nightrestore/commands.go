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
	"github.com/spf13/cobra"
	"github.com/mlnoga/nightrestore/internal/deconv"
	"github.com/mlnoga/nightrestore/internal/greyc"
	"github.com/mlnoga/nightrestore/internal/ops"
	"github.com/mlnoga/nightrestore/internal/ops/measure"
	"github.com/mlnoga/nightrestore/internal/ops/restore"
	"github.com/mlnoga/nightrestore/internal/star"
)

func newDeconvCmd(ctx context.Context, g *globalFlags) *cobra.Command {
	spec:=restore.DefaultPSFSpec()
	params:=deconv.DefaultParams()

	cmd:=&cobra.Command{
		Use:   "deconv [img0.tif ... imgn.tif]",
		Short: "Deconvolve images with a point spread function",
		Long: `Deconvolves images in the frequency domain with a parametric, motion blur or external PSF,
using a Wiener or constrained least squares filter, with optional deringing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.process(ctx, args, restore.NewOpDeconvolve(spec, params))
		},
	}
	f:=cmd.Flags()
	f.StringVar(&spec.Kind, "psf", spec.Kind, "PSF kind: parametric, motion or external")
	f.Float64Var(&spec.Sigma, "sigma", spec.Sigma, "parametric PSF standard deviation in pixels")
	f.Float64Var(&spec.Shape, "shape", spec.Shape, "parametric PSF shape, 2 for a Gaussian")
	f.Float64Var(&spec.Aspect, "aspect", spec.Aspect, "parametric PSF aspect ratio in (0,1]")
	f.Float64Var(&spec.Angle, "angle", spec.Angle, "PSF rotation in degrees, counterclockwise")
	f.Float64Var(&spec.Length, "length", 5, "motion blur length in pixels")
	f.StringVar(&spec.File, "psfFile", "", "grayscale TIFF `file` holding an external PSF")
	f.Var(&params.Algorithm, "algorithm", "filter algorithm: wiener or cls")
	f.Float64Var(&params.K, "k", params.K, "Wiener noise to signal ratio")
	f.Float64Var(&params.Gamma, "gamma", params.Gamma, "CLS regularization weight")
	f.Float64Var(&params.Amount, "amount", params.Amount, "blend amount with the original, 0..1")
	f.BoolVar(&params.ToLuminance, "luminance", params.ToLuminance, "restore only the luminance of color images")
	f.BoolVar(&params.Deringing, "deringing", params.Deringing, "apply deringing correction")
	f.Float64Var(&params.DeringingDark, "dark", params.DeringingDark, "dark ring correction strength, 0..1")
	f.Float64Var(&params.DeringingBright, "bright", params.DeringingBright, "bright ring correction strength, 0..1")
	f.Float64Var(&params.RangeLow, "rangeLow", params.RangeLow, "range extension below zero")
	f.Float64Var(&params.RangeHigh, "rangeHigh", params.RangeHigh, "range extension above one")
	return cmd
}

func newGREYCCmd(ctx context.Context, g *globalFlags) *cobra.Command {
	params:=greyc.DefaultParams()

	cmd:=&cobra.Command{
		Use:   "greyc [img0.tif ... imgn.tif]",
		Short: "Denoise images with GREYCstoration anisotropic diffusion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.process(ctx, args, restore.NewOpGREYCstoration(params))
		},
	}
	f:=cmd.Flags()
	f.Float64Var(&params.Amplitude, "amplitude", params.Amplitude, "regularization strength per iteration")
	f.IntVar(&params.Iterations, "iterations", params.Iterations, "number of iterations")
	f.Float64Var(&params.Sharpness, "sharpness", params.Sharpness, "contour preservation")
	f.Float64Var(&params.Anisotropy, "anisotropy", params.Anisotropy, "smoothing anisotropy, 0..1")
	f.Float64Var(&params.Alpha, "noiseScale", params.Alpha, "noise scale")
	f.Float64Var(&params.Sigma, "regularity", params.Sigma, "geometry regularity")
	f.Float64Var(&params.SpatialStep, "spatialStep", params.SpatialStep, "spatial integration step")
	f.Float64Var(&params.AngularStep, "angularStep", params.AngularStep, "angular integration step in degrees")
	f.Float64Var(&params.Precision, "precision", params.Precision, "integration precision")
	f.Var(&params.Interpolation, "interpolation", "interpolation: nearest, linear or rk2")
	f.BoolVar(&params.FastApprox, "fast", params.FastApprox, "use fast approximation")
	f.BoolVar(&params.CoupledChannels, "coupled", params.CoupledChannels, "diffuse color channels jointly")
	f.IntVar(&params.Threads, "threads", params.Threads, "number of row bands, 0 for one per physical core")
	return cmd
}

func newStarsCmd(ctx context.Context, g *globalFlags) *cobra.Command {
	detect:=star.DefaultDetectParams()
	fit, circular, csv:=true, false, "stars%d.csv"
	fn:=star.Gaussian

	cmd:=&cobra.Command{
		Use:   "stars [img0.tif ... imgn.tif]",
		Short: "Detect stars and fit their point spread functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err:=g.source(args)
			if err!=nil { return err }
			op:=measure.NewOpStars(detect, fit, fn, circular, csv)
			return g.runSequence(ctx, ops.NewOpSequence(source, ops.NewOpForEach(op)))
		},
	}
	f:=cmd.Flags()
	f.IntVar(&detect.Radius, "radius", detect.Radius, "star radius in pixels")
	f.Float64Var(&detect.Sigma, "sigma", detect.Sigma, "detection threshold in standard deviations above background")
	f.Float64Var(&detect.BadPixelSigma, "badPixelSigma", detect.BadPixelSigma, "bad pixel rejection threshold, 0 to skip")
	f.Float64Var(&detect.InOutRatio, "inOut", detect.InOutRatio, "minimal ratio of brightness inside HFR to outside HFR")
	f.BoolVar(&detect.HotPixelFilter, "hotPixelFilter", detect.HotPixelFilter, "detect on a 3x3 median filtered copy")
	f.BoolVar(&fit, "fit", fit, "fit a PSF to each star")
	f.Var(&fn, "function", "PSF model: gaussian or moffat")
	f.BoolVar(&circular, "circular", circular, "fit circular instead of elliptical PSFs")
	f.StringVar(&csv, "csv", csv, "save star list with given filename `pattern`, empty for none")
	return cmd
}

func newSynthCmd(ctx context.Context, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "synth",
		Short: "Generate a synthetic star field",
		RunE: func(cmd *cobra.Command, args []string) error {
			g.synth=true
			source, err:=g.source(nil)
			if err!=nil { return err }
			return g.runSequence(ctx, ops.NewOpSequence(source, ops.NewOpForEach(ops.NewOpSequence(g.sinks()...))))
		},
	}
}

func newRunCmd(ctx context.Context, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run config.json5",
		Short: "Run an operator pipeline from a JSON5 configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err:=os.ReadFile(args[0])
			if err!=nil { return err }
			op, err:=ops.ParseOperatorJSON5(data)
			if err!=nil { return fmt.Errorf("%s: %w", args[0], err) }
			return g.runSequence(ctx, op)
		},
	}
}
