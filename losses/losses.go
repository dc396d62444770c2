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

// Package losses implements the supervised and unsupervised losses used to
// train pose-estimation models, each with a learnable weight balancing it in
// the joint objective.
//
// Every loss follows the same fixed pipeline:
//
//  1. mask missing labels (NaN coordinates, or all-zero heatmap slices);
//  2. compute the elementwise loss;
//  3. epsilon-insensitivity, where it applies: values below epsilon are zeroed;
//  4. reduce to a scalar (a masked mean by default);
//  5. return the weighted scalar together with log entries.
//
// Graphs have static shapes, so masking never changes tensor sizes: invalid
// entries are scrubbed, excluded from the reduction denominator, and blocked
// from gradient flow -- equivalent to dropping them.
//
// The returned scalar is already multiplied by the loss's weight, a strictly
// positive value derived from the trainable log_weight variable:
// weight = 1 / (2 * exp(log_weight)). Summing the scalars of several loss
// instances (see Factory) yields their total contribution to the objective.
package losses

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Scope under which the losses create their trainable log_weight variables,
// one sub-scope per loss name.
const Scope = "losses"

// Stage tags the log entries of a loss call with the split being processed.
type Stage int

const (
	StageTrain Stage = iota
	StageVal
	StageTest
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageTrain:
		return "train"
	case StageVal:
		return "val"
	case StageTest:
		return "test"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Reduction aggregates an elementwise loss into a scalar.
type Reduction int

const (
	// ReductionMean averages over the valid (unmasked) elements. The mean over
	// zero valid elements is defined as exactly 0.
	ReductionMean Reduction = iota

	// ReductionSum sums over the valid elements.
	ReductionSum
)

// LogEntry is one named scalar emitted by a loss call, for external
// aggregation and monitoring. Entries are observational only: they never feed
// back into gradient computation.
type LogEntry struct {
	Name  string
	Value *Node
}

// Batch carries the model outputs and ground truth a training step feeds to
// the losses. Each loss reads only the fields it needs and panics with a
// descriptive error when a required field is missing.
//
// Heatmaps are shaped [batch, numKeypoints, height, width]. Keypoints are
// shaped [batch, 2*numKeypoints] with x,y interleaved per keypoint. Missing
// ground truth is NaN for coordinates and an all-zero spatial slice for
// heatmaps.
type Batch struct {
	TargetHeatmaps     *Node
	PredictedHeatmaps  *Node
	TargetKeypoints    *Node
	PredictedKeypoints *Node
}

// Interface is the uniform call contract every loss variant exposes,
// regardless of internal differences, so an external aggregator can treat all
// instances alike.
type Interface interface {
	// Name of the loss, as used in the registry and in log entry names.
	Name() string

	// LossGraph builds the loss computation into the batch's graph. It returns
	// the already-weighted scalar loss and the ordered log entries
	// ("{stage}_{name}_loss" then "{name}_weight").
	LossGraph(ctx *context.Context, stage Stage, batch Batch) (loss *Node, logs []LogEntry)
}

// lossWeight returns the strictly positive weight 1/(2*exp(log_weight)),
// where log_weight is a trainable scalar variable under Scope/<name>, created
// on first use with the given initial value. Computing the weight in-graph
// keeps it on the same device as the tensors it scales and lets gradients
// reach the variable.
func lossWeight(ctx *context.Context, g *Graph, name string, initialLogWeight float64, dtype dtypes.DType) *Node {
	logWeightVar := ctx.In(Scope).In(name).Checked(false).
		VariableWithValue("log_weight", initialLogWeight)
	logWeight := ConvertDType(logWeightVar.ValueGraph(g), dtype)
	return MulScalar(Exp(Neg(logWeight)), 0.5)
}

// logLoss builds the two log entries of a loss call.
func logLoss(name string, stage Stage, scalarLoss, weight *Node) []LogEntry {
	return []LogEntry{
		{Name: fmt.Sprintf("%s_%s_loss", stage, name), Value: scalarLoss},
		{Name: fmt.Sprintf("%s_weight", name), Value: weight},
	}
}

// RectifyEpsilon zeroes every loss element strictly below epsilon, so
// negligible residual error stops driving the optimizer. With epsilon <= 0 it
// is the identity.
func RectifyEpsilon(loss *Node, epsilon float64) *Node {
	if epsilon <= 0 {
		return loss
	}
	epsilonNode := Scalar(loss.Graph(), loss.DType(), epsilon)
	return Where(LessThan(loss, epsilonNode), ZerosLike(loss), loss)
}

// Reduce aggregates an elementwise loss into a scalar. Unknown reduction
// methods panic.
func Reduce(loss *Node, method Reduction) *Node {
	switch method {
	case ReductionMean:
		return ReduceAllMean(loss)
	case ReductionSum:
		return ReduceAllSum(loss)
	}
	Panicf("unknown loss reduction method %d (valid: ReductionMean, ReductionSum)", method)
	return nil
}

// MaskedReduce aggregates the elements of loss where mask is true. mask must
// be broadcastable to loss's dimensions. The mean over an all-false mask is
// exactly 0, so a batch with no valid labels contributes nothing (and no NaN)
// to the objective.
func MaskedReduce(loss, mask *Node, method Reduction) *Node {
	if mask == nil {
		return Reduce(loss, method)
	}
	if !mask.Shape().Equal(shapes.Make(dtypes.Bool, loss.Shape().Dimensions...)) {
		mask = BroadcastToShape(mask, shapes.Make(dtypes.Bool, loss.Shape().Dimensions...))
	}
	sum := ReduceAllSum(Where(mask, loss, ZerosLike(loss)))
	switch method {
	case ReductionSum:
		return sum
	case ReductionMean:
		count := ReduceAllSum(ConvertDType(mask, loss.DType()))
		return Div(sum, MaxScalar(count, 1.0))
	}
	Panicf("unknown loss reduction method %d (valid: ReductionMean, ReductionSum)", method)
	return nil
}

// assertSameShape fails fast with a descriptive error instead of letting the
// linear algebra fail cryptically downstream.
func assertSameShape(lossName string, targets, predictions *Node) {
	if !targets.Shape().Equal(predictions.Shape()) {
		Panicf("%s: targets (%s) and predictions (%s) must have the same shape",
			lossName, targets.Shape(), predictions.Shape())
	}
}

// required panics when a loss is called without one of its inputs.
func required(lossName, field string, node *Node) *Node {
	if node == nil {
		Panicf("%s requires Batch.%s", lossName, field)
	}
	return node
}
