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
)

// RegressionMSE is the supervised mean-squared-error between target and
// predicted keypoint coordinates. NaN target coordinates mark missing labels;
// the mask applies independently to each scalar coordinate channel, not per
// (x,y) pair.
type RegressionMSE struct {
	logWeight float64
	reduction Reduction
}

// NewRegressionMSE builds the loss from configuration.
func NewRegressionMSE(cfg Config) *RegressionMSE {
	return &RegressionMSE{logWeight: cfg.LogWeight, reduction: cfg.Reduction}
}

// Name implements Interface.
func (l *RegressionMSE) Name() string { return "regression_mse" }

// LossGraph implements Interface.
func (l *RegressionMSE) LossGraph(ctx *context.Context, stage Stage, batch Batch) (*Node, []LogEntry) {
	targets := required(l.Name(), "TargetKeypoints", batch.TargetKeypoints)
	predictions := required(l.Name(), "PredictedKeypoints", batch.PredictedKeypoints)
	assertSameShape(l.Name(), targets, predictions)

	mask := IsFinite(targets)
	// Scrub the NaNs before any arithmetic: they must not reach the backward
	// pass, even on masked-out elements.
	cleanTargets := Where(mask, targets, ZerosLike(targets))
	elementwise := Square(Sub(cleanTargets, predictions))
	scalarLoss := MaskedReduce(elementwise, mask, l.reduction)

	weight := lossWeight(ctx, targets.Graph(), l.Name(), l.logWeight, targets.DType())
	return Mul(weight, scalarLoss), logLoss(l.Name(), stage, scalarLoss, weight)
}

// RegressionRMSE is the per-keypoint root-mean-squared error: the squared x
// and y residuals of each keypoint are averaged and rooted, yielding one error
// per keypoint per sample. Note this averages the squared components before
// the root, which is not the Euclidean norm of the residual.
//
// Unlike RegressionMSE it does not route through the masking path: it is a
// metric-style loss whose inputs must already be free of NaN.
type RegressionRMSE struct {
	logWeight float64
	reduction Reduction
}

// NewRegressionRMSE builds the loss from configuration.
func NewRegressionRMSE(cfg Config) *RegressionRMSE {
	return &RegressionRMSE{logWeight: cfg.LogWeight, reduction: cfg.Reduction}
}

// Name implements Interface.
func (l *RegressionRMSE) Name() string { return "rmse" }

// LossGraph implements Interface.
func (l *RegressionRMSE) LossGraph(ctx *context.Context, stage Stage, batch Batch) (*Node, []LogEntry) {
	targets := required(l.Name(), "TargetKeypoints", batch.TargetKeypoints)
	predictions := required(l.Name(), "PredictedKeypoints", batch.PredictedKeypoints)
	assertSameShape(l.Name(), targets, predictions)

	numCoords := targets.Shape().Size()
	targetPairs := Reshape(targets, numCoords/2, 2)
	predictedPairs := Reshape(predictions, numCoords/2, 2)
	perKeypoint := Sqrt(ReduceMean(Square(Sub(targetPairs, predictedPairs)), -1))
	scalarLoss := Reduce(perKeypoint, l.reduction)

	weight := lossWeight(ctx, targets.Graph(), l.Name(), l.logWeight, targets.DType())
	return Mul(weight, scalarLoss), logLoss(l.Name(), stage, scalarLoss, weight)
}
