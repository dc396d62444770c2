/*
 *	Copyright 2026 Ganesh Samarth
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package heatmaps synthesizes 2D Gaussian heatmaps from keypoint coordinates.
//
// A heatmap is a spatial grid of confidences for one keypoint's location.
// Ground-truth pipelines render them from labeled coordinates; the unimodal
// losses render them from *predicted* coordinates to obtain an idealized
// single-peaked comparison target.
package heatmaps

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
)

// gaussianNormalization is 1/sqrt(2*pi), the 1D Gaussian normalization factor
// per unit sigma.
const gaussianNormalization = 0.3989422804014327

// RenderGaussianConfig configures RenderGaussian.
type RenderGaussianConfig struct {
	// Height and Width of the original image the keypoints are expressed in.
	Height, Width int

	// OutputHeight and OutputWidth of the rendered heatmaps, typically the
	// (downsampled) resolution of the model's heatmap head.
	OutputHeight, OutputWidth int

	// Sigma of the rendered Gaussian bumps, in output pixels. Defaults to 1.
	Sigma float64

	// Normalized leaves the Gaussian peak at 1 when true (the default used for
	// training targets); when false each map is scaled by 1/(sigma*sqrt(2*pi)).
	Normalized bool
}

// RenderGaussian renders one 2D Gaussian bump per keypoint.
//
// keypoints must be shaped [batch, numKeypoints, 2] with (x, y) in original
// image coordinates; they are rescaled to the output resolution. The result is
// shaped [batch, numKeypoints, outputHeight, outputWidth].
//
// A keypoint with any non-finite coordinate produces an all-zero map, the
// missing-label convention used throughout: consumers detect missing labels by
// testing for all-zero spatial support.
func RenderGaussian(keypoints *Node, cfg RenderGaussianConfig) *Node {
	if keypoints.Rank() != 3 || keypoints.Shape().Dim(-1) != 2 {
		Panicf("heatmaps.RenderGaussian requires keypoints shaped [batch, numKeypoints, 2], got %s",
			keypoints.Shape())
	}
	if cfg.Height <= 0 || cfg.Width <= 0 || cfg.OutputHeight <= 0 || cfg.OutputWidth <= 0 {
		Panicf("heatmaps.RenderGaussian requires positive image and output sizes, got %dx%d -> %dx%d",
			cfg.Height, cfg.Width, cfg.OutputHeight, cfg.OutputWidth)
	}
	sigma := cfg.Sigma
	if sigma == 0 {
		sigma = 1.0
	}
	if sigma < 0 {
		Panicf("heatmaps.RenderGaussian requires sigma > 0, got %g", sigma)
	}

	g := keypoints.Graph()
	dtype := keypoints.DType()
	batchSize := keypoints.Shape().Dim(0)
	numKeypoints := keypoints.Shape().Dim(1)

	// Rescale from original image coordinates to output pixels, and reshape to
	// [batch, numKeypoints, 1, 1] for broadcasting against the grid.
	x := Slice(keypoints, AxisRange(), AxisRange(), AxisElem(0))
	y := Slice(keypoints, AxisRange(), AxisRange(), AxisElem(1))
	x = MulScalar(x, float64(cfg.OutputWidth)/float64(cfg.Width))
	y = MulScalar(y, float64(cfg.OutputHeight)/float64(cfg.Height))
	x = Reshape(x, batchSize, numKeypoints, 1, 1)
	y = Reshape(y, batchSize, numKeypoints, 1, 1)

	valid := LogicalAnd(IsFinite(x), IsFinite(y))
	// Scrub before any arithmetic: NaN coordinates must not reach the
	// exponentials, or they would poison the backward pass.
	x = Where(valid, x, ZerosLike(x))
	y = Where(valid, y, ZerosLike(y))

	gridShape := shapes.Make(dtype, cfg.OutputHeight, cfg.OutputWidth)
	yy := InsertAxes(Iota(g, gridShape, 0), 0, 0) // [1, 1, outH, outW]
	xx := InsertAxes(Iota(g, gridShape, 1), 0, 0)

	distSquared := Add(Square(Sub(xx, x)), Square(Sub(yy, y)))
	bumps := Exp(DivScalar(Neg(distSquared), 2.0*sigma*sigma))
	if !cfg.Normalized {
		bumps = MulScalar(bumps, gaussianNormalization/sigma)
	}
	return Where(BroadcastToShape(valid, bumps.Shape()), bumps, ZerosLike(bumps))
}

// KeypointsToGrid reshapes interleaved coordinates [batch, 2*numKeypoints]
// (x, y per keypoint) into [batch, numKeypoints, 2].
func KeypointsToGrid(keypoints *Node) *Node {
	if keypoints.Rank() != 2 || keypoints.Shape().Dim(-1)%2 != 0 {
		Panicf("KeypointsToGrid requires keypoints shaped [batch, 2*numKeypoints], got %s", keypoints.Shape())
	}
	batchSize := keypoints.Shape().Dim(0)
	return Reshape(keypoints, batchSize, keypoints.Shape().Dim(1)/2, 2)
}
