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

package losses

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"

	"github.com/ganeshsamarth/lightning-pose/heatmaps"
	"github.com/ganeshsamarth/lightning-pose/sinkhorn"
)

// UnimodalVariant selects how Unimodal compares heatmaps.
type UnimodalVariant int

const (
	// UnimodalMSE compares elementwise squared error.
	UnimodalMSE UnimodalVariant = iota

	// UnimodalWasserstein compares via optimal-transport distance, one
	// transport problem per (batch, keypoint) slice.
	UnimodalWasserstein
)

// Unimodal penalizes diffuse or multimodal predicted heatmaps. It renders an
// idealized single-peaked Gaussian at each *predicted* coordinate -- a
// stop-gradient synthetic target -- and compares the predicted heatmap against
// it: a self-consistency regularizer between a model's coordinate and heatmap
// heads, consuming predictions only.
type Unimodal struct {
	variant     UnimodalVariant
	render      heatmaps.RenderGaussianConfig
	logWeight   float64
	reduction   Reduction
	sinkhornOps []sinkhorn.Option
}

// NewUnimodal builds the loss from configuration. The original and
// downsampled image sizes are required to rescale predicted coordinates to
// the heatmap resolution.
func NewUnimodal(variant UnimodalVariant, cfg Config) *Unimodal {
	if cfg.OriginalImageHeight <= 0 || cfg.OriginalImageWidth <= 0 ||
		cfg.DownsampledImageHeight <= 0 || cfg.DownsampledImageWidth <= 0 {
		Panicf("unimodal losses require positive original and downsampled image sizes, got %dx%d -> %dx%d",
			cfg.OriginalImageHeight, cfg.OriginalImageWidth,
			cfg.DownsampledImageHeight, cfg.DownsampledImageWidth)
	}
	return &Unimodal{
		variant: variant,
		render: heatmaps.RenderGaussianConfig{
			Height:       cfg.OriginalImageHeight,
			Width:        cfg.OriginalImageWidth,
			OutputHeight: cfg.DownsampledImageHeight,
			OutputWidth:  cfg.DownsampledImageWidth,
			Sigma:        cfg.Sigma,
			Normalized:   true,
		},
		logWeight:   cfg.LogWeight,
		reduction:   cfg.Reduction,
		sinkhornOps: cfg.sinkhornOptions(),
	}
}

// Name implements Interface.
func (l *Unimodal) Name() string {
	if l.variant == UnimodalWasserstein {
		return "unimodal_wasserstein"
	}
	return "unimodal_mse"
}

// LossGraph implements Interface.
func (l *Unimodal) LossGraph(ctx *context.Context, stage Stage, batch Batch) (*Node, []LogEntry) {
	keypoints := required(l.Name(), "PredictedKeypoints", batch.PredictedKeypoints)
	predictions := required(l.Name(), "PredictedHeatmaps", batch.PredictedHeatmaps)

	// The synthetic targets carry no gradient: the loss shapes the heatmap
	// head toward the coordinate head, not the other way around.
	ideal := StopGradient(heatmaps.RenderGaussian(heatmaps.KeypointsToGrid(keypoints), l.render))
	assertSameShape(l.Name(), ideal, predictions)

	var scalarLoss *Node
	switch l.variant {
	case UnimodalMSE:
		scalarLoss = Reduce(Square(Sub(ideal, predictions)), l.reduction)
	case UnimodalWasserstein:
		batchSize := predictions.Shape().Dim(0)
		numKeypoints := predictions.Shape().Dim(1)
		height := predictions.Shape().Dim(2)
		width := predictions.Shape().Dim(3)
		distances := sinkhorn.Distance(
			Reshape(ideal, batchSize*numKeypoints, height, width),
			Reshape(predictions, batchSize*numKeypoints, height, width),
			l.sinkhornOps...)
		scalarLoss = Reduce(distances, l.reduction)
	default:
		Panicf("unknown unimodal variant %d", l.variant)
	}

	weight := lossWeight(ctx, predictions.Graph(), l.Name(), l.logWeight, predictions.DType())
	return Mul(weight, scalarLoss), logLoss(l.Name(), stage, scalarLoss, weight)
}
