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
	"math"
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/stretchr/testify/require"
)

func TestRegressionMSEMasksNaNTargets(t *testing.T) {
	nan := float32(math.NaN())
	batchFn := func(g *Graph) Batch {
		return Batch{
			// Two of the four coordinates are unlabeled; their (large)
			// predictions must not reach the loss.
			TargetKeypoints:    Const(g, [][]float32{{1, nan}, {nan, 2}}),
			PredictedKeypoints: Const(g, [][]float32{{2, 5}, {7, 4}}),
		}
	}
	weighted, logs := evalLoss(t, NewRegressionMSE(Config{}), StageTrain, batchFn)
	// Valid residuals: (1-2)^2=1 and (2-4)^2=4, averaged over 2 elements.
	require.InDelta(t, 2.5, logs["train_regression_mse_loss"], 1e-6)
	require.InDelta(t, 1.25, weighted, 1e-6)

	weighted, _ = evalLoss(t, NewRegressionMSE(Config{Reduction: ReductionSum}), StageTrain, batchFn)
	require.InDelta(t, 2.5, weighted, 1e-6, "sum reduction counts each valid residual once")
}

func TestRegressionMSEAllTargetsMissing(t *testing.T) {
	nan := float32(math.NaN())
	_, logs := evalLoss(t, NewRegressionMSE(Config{}), StageTrain, func(g *Graph) Batch {
		return Batch{
			TargetKeypoints:    Const(g, [][]float32{{nan, nan}}),
			PredictedKeypoints: Const(g, [][]float32{{3, 4}}),
		}
	})
	require.Zero(t, logs["train_regression_mse_loss"], "a batch with no labels contributes 0, not NaN")
}

func TestRegressionRMSE(t *testing.T) {
	_, logs := evalLoss(t, NewRegressionRMSE(Config{}), StageTrain, func(g *Graph) Batch {
		return Batch{
			TargetKeypoints:    Const(g, [][]float32{{0, 0}}),
			PredictedKeypoints: Const(g, [][]float32{{3, 4}}),
		}
	})
	// sqrt(mean(9, 16)) = sqrt(12.5): the components are averaged before the
	// root, so this is NOT the Euclidean distance 5.
	require.InDelta(t, math.Sqrt(12.5), logs["train_rmse_loss"], 1e-5)
}

func TestRegressionValidation(t *testing.T) {
	require.Panics(t, func() {
		evalLoss(t, NewRegressionMSE(Config{}), StageTrain, func(g *Graph) Batch {
			return Batch{PredictedKeypoints: Const(g, [][]float32{{1, 2}})}
		})
	}, "missing TargetKeypoints")
	require.Panics(t, func() {
		evalLoss(t, NewRegressionRMSE(Config{}), StageTrain, func(g *Graph) Batch {
			return Batch{
				TargetKeypoints:    Const(g, [][]float32{{1, 2}}),
				PredictedKeypoints: Const(g, [][]float32{{1, 2}, {3, 4}}),
			}
		})
	}, "shape mismatch")
}
