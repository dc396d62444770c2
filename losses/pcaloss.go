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
	"github.com/ganeshsamarth/lightning-pose/pca"
)

// PCA penalizes predicted keypoint configurations that fall outside the
// low-dimensional subspace of plausible poses fitted once on the labeled
// training split (see package pca). The multiview variant first regroups
// predictions so each sample is one landmark seen from every camera view.
//
// Unlike the other losses its epsilon is data-driven: the fitted percentile
// of training-set reprojection errors, so only above-typical deviation from
// the subspace is penalized.
type PCA struct {
	fitted    *pca.KeypointPCA
	logWeight float64
	reduction Reduction
}

// NewPCA wraps an already-fitted subspace model into a loss. The fit is a
// separate, explicit step (pca.Fit) so the one expensive operation of this
// package is not hidden inside a constructor.
func NewPCA(fitted *pca.KeypointPCA, cfg Config) *PCA {
	if fitted == nil {
		Panicf("losses.NewPCA requires a fitted *pca.KeypointPCA (run pca.Fit on the labeled training keypoints first)")
	}
	return &PCA{fitted: fitted, logWeight: cfg.LogWeight, reduction: cfg.Reduction}
}

// Name implements Interface.
func (l *PCA) Name() string {
	if l.fitted.Multiview() {
		return "pca_multiview"
	}
	return "pca_singleview"
}

// Fitted returns the underlying subspace model.
func (l *PCA) Fitted() *pca.KeypointPCA { return l.fitted }

// LossGraph implements Interface.
func (l *PCA) LossGraph(ctx *context.Context, stage Stage, batch Batch) (*Node, []LogEntry) {
	predictions := required(l.Name(), "PredictedKeypoints", batch.PredictedKeypoints)

	data := predictions
	if l.fitted.Multiview() {
		data = l.fitted.FormatMultiviewGraph(heatmaps.KeypointsToGrid(predictions))
	}
	elementwise := l.fitted.ReprojectionErrorGraph(data) // one error per (x,y) pair
	elementwise = RectifyEpsilon(elementwise, l.fitted.Epsilon())
	scalarLoss := Reduce(elementwise, l.reduction)

	weight := lossWeight(ctx, predictions.Graph(), l.Name(), l.logWeight, predictions.DType())
	return Mul(weight, scalarLoss), logLoss(l.Name(), stage, scalarLoss, weight)
}
