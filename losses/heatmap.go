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
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"

	"github.com/ganeshsamarth/lightning-pose/sinkhorn"
)

// HeatmapMSE is the supervised mean-squared-error between target and
// predicted heatmaps. Target slices with no spatial support (all zeros) mark
// missing labels and are excluded from the mean.
type HeatmapMSE struct {
	logWeight float64
	reduction Reduction
}

// NewHeatmapMSE builds the loss from configuration. Only LogWeight and
// Reduction apply; supervised losses carry no epsilon-insensitivity.
func NewHeatmapMSE(cfg Config) *HeatmapMSE {
	return &HeatmapMSE{logWeight: cfg.LogWeight, reduction: cfg.Reduction}
}

// Name implements Interface.
func (l *HeatmapMSE) Name() string { return "heatmap_mse" }

// LossGraph implements Interface.
func (l *HeatmapMSE) LossGraph(ctx *context.Context, stage Stage, batch Batch) (*Node, []LogEntry) {
	targets := required(l.Name(), "TargetHeatmaps", batch.TargetHeatmaps)
	predictions := required(l.Name(), "PredictedHeatmaps", batch.PredictedHeatmaps)
	assertSameShape(l.Name(), targets, predictions)

	mask := validHeatmapMask(targets) // [batch, numKeypoints]
	elementwise := Square(Sub(targets, predictions))
	scalarLoss := MaskedReduce(elementwise, InsertAxes(mask, -1, -1), l.reduction)

	weight := lossWeight(ctx, targets.Graph(), l.Name(), l.logWeight, targets.DType())
	return Mul(weight, scalarLoss), logLoss(l.Name(), stage, scalarLoss, weight)
}

// HeatmapWasserstein is the supervised optimal-transport distance between
// target and predicted heatmaps, one transport problem per (batch, keypoint)
// slice. Compared to MSE it credits predictions that put mass near (not
// exactly on) the target peak; the Reach parameter bounds how far mass may
// travel, trading localization strictness for leniency toward diffuse targets.
type HeatmapWasserstein struct {
	logWeight   float64
	reduction   Reduction
	sinkhornOps []sinkhorn.Option
}

// NewHeatmapWasserstein builds the loss from configuration. Reach, Blur and
// SinkhornIterations tune the transport; zero values mean unconstrained reach
// and package defaults.
func NewHeatmapWasserstein(cfg Config) *HeatmapWasserstein {
	return &HeatmapWasserstein{
		logWeight:   cfg.LogWeight,
		reduction:   cfg.Reduction,
		sinkhornOps: cfg.sinkhornOptions(),
	}
}

// Name implements Interface.
func (l *HeatmapWasserstein) Name() string { return "heatmap_wasserstein" }

// LossGraph implements Interface.
func (l *HeatmapWasserstein) LossGraph(ctx *context.Context, stage Stage, batch Batch) (*Node, []LogEntry) {
	targets := required(l.Name(), "TargetHeatmaps", batch.TargetHeatmaps)
	predictions := required(l.Name(), "PredictedHeatmaps", batch.PredictedHeatmaps)
	assertSameShape(l.Name(), targets, predictions)

	batchSize := targets.Shape().Dim(0)
	numKeypoints := targets.Shape().Dim(1)
	height := targets.Shape().Dim(2)
	width := targets.Shape().Dim(3)

	mask := Reshape(validHeatmapMask(targets), batchSize*numKeypoints)
	distances := sinkhorn.Distance(
		Reshape(targets, batchSize*numKeypoints, height, width),
		Reshape(predictions, batchSize*numKeypoints, height, width),
		l.sinkhornOps...) // [batchSize*numKeypoints]
	scalarLoss := MaskedReduce(distances, mask, l.reduction)

	weight := lossWeight(ctx, targets.Graph(), l.Name(), l.logWeight, targets.DType())
	return Mul(weight, scalarLoss), logLoss(l.Name(), stage, scalarLoss, weight)
}

// validHeatmapMask marks the (batch, keypoint) slices whose target has any
// spatial support. All-zero slices are the missing-label convention.
func validHeatmapMask(targets *Node) *Node {
	batchSize := targets.Shape().Dim(0)
	numKeypoints := targets.Shape().Dim(1)
	flat := Reshape(targets, batchSize, numKeypoints, targets.Shape().Dim(2)*targets.Shape().Dim(3))
	return LogicalAny(LogicalNot(IsZero(flat)), -1)
}
