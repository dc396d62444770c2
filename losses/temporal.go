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
)

// Temporal penalizes the per-keypoint Euclidean displacement between
// temporally adjacent predictions, modeling consecutive-frame motion as a
// random walk: x_t = x_(t-1) + e_t, e_t ~ N(0, s).
//
// The batch axis is treated as a time-ordered sequence of consecutive frames;
// supplying the batch in temporal order is the caller's responsibility.
// Motion below epsilon is free. Only predictions are consumed, so there is no
// missing-label handling.
type Temporal struct {
	epsilon   float64
	logWeight float64
	reduction Reduction
}

// NewTemporal builds the loss from configuration.
func NewTemporal(cfg Config) *Temporal {
	return &Temporal{epsilon: cfg.Epsilon, logWeight: cfg.LogWeight, reduction: cfg.Reduction}
}

// Name implements Interface.
func (l *Temporal) Name() string { return "temporal" }

// LossGraph implements Interface.
func (l *Temporal) LossGraph(ctx *context.Context, stage Stage, batch Batch) (*Node, []LogEntry) {
	predictions := required(l.Name(), "PredictedKeypoints", batch.PredictedKeypoints)
	if predictions.Rank() != 2 || predictions.Shape().Dim(-1)%2 != 0 {
		Panicf("%s: predictions must be shaped [batch, 2*numKeypoints], got %s",
			l.Name(), predictions.Shape())
	}
	batchSize := predictions.Shape().Dim(0)
	if batchSize < 2 {
		Panicf("%s: needs at least 2 consecutive frames per batch, got %d", l.Name(), batchSize)
	}
	numKeypoints := predictions.Shape().Dim(1) / 2

	diffs := ConsecutiveDifference(predictions, 0, false) // [batch-1, 2*numKeypoints]
	pairs := Reshape(diffs, batchSize-1, numKeypoints, 2)
	elementwise := L2Norm(pairs, -1) // [batch-1, numKeypoints]
	elementwise = RectifyEpsilon(elementwise, l.epsilon)
	scalarLoss := Reduce(elementwise, l.reduction)

	weight := lossWeight(ctx, predictions.Graph(), l.Name(), l.logWeight, predictions.DType())
	return Mul(weight, scalarLoss), logLoss(l.Name(), stage, scalarLoss, weight)
}
