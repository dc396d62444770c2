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
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/require"

	"github.com/ganeshsamarth/lightning-pose/pca"
)

// rankOneKeypoints builds 2-keypoint samples spread along the direction
// (1,1,1,1)/2 around the mean (10,20,30,40).
func rankOneKeypoints(numSamples int) *tensors.Tensor {
	data := make([]float64, 0, numSamples*4)
	mean := []float64{10, 20, 30, 40}
	for i := 0; i < numSamples; i++ {
		scale := float64(i) - float64(numSamples-1)/2
		for j := 0; j < 4; j++ {
			data = append(data, mean[j]+scale*0.5)
		}
	}
	return tensors.FromFlatDataAndDimensions(data, numSamples, 4)
}

func TestPCASingleview(t *testing.T) {
	fitted, err := pca.Fit(rankOneKeypoints(9), pca.Options{})
	require.NoError(t, err)
	lossInstance := NewPCA(fitted, Config{})
	require.Equal(t, "pca_singleview", lossInstance.Name())

	// A prediction on the fitted subspace costs (almost) nothing.
	_, logs := evalLoss(t, lossInstance, StageTrain, func(g *Graph) Batch {
		return Batch{PredictedKeypoints: Const(g, [][]float32{{11, 21, 31, 41}})}
	})
	require.InDelta(t, 0.0, logs["train_pca_singleview_loss"], 1e-4)

	// An offset of norm 5 along (1,-1,0,0)/sqrt2 is orthogonal to the
	// subspace and lands entirely on the first keypoint: per-keypoint errors
	// are [5, 0], and only the above-epsilon one is penalized.
	offset := float32(5 / math.Sqrt2)
	weighted, logs := evalLoss(t, lossInstance, StageTrain, func(g *Graph) Batch {
		return Batch{PredictedKeypoints: Const(g, [][]float32{{11 + offset, 21 - offset, 31, 41}})}
	})
	require.InDelta(t, 2.5, logs["train_pca_singleview_loss"], 1e-3)
	require.InDelta(t, 1.25, weighted, 1e-3)
}

func TestPCAMultiviewRegroupsViews(t *testing.T) {
	// Two views of two landmarks: keypoints 0,2 are view 0 and 1,3 view 1.
	matches := [][]int{{0, 2}, {1, 3}}
	numSamples := 8
	data := make([]float64, 0, numSamples*8)
	for i := 0; i < numSamples; i++ {
		s := float64(i)
		data = append(data, s, 2*s, s+1, 2*s+1, 3*s, s, 3*s+1, s+1)
	}
	training := tensors.FromFlatDataAndDimensions(data, numSamples, 8)

	lossInstance := ByName("pca_multiview", Config{
		TrainingKeypoints:     training,
		MirroredColumnMatches: matches,
		NumComponents:         2,
	})
	require.Equal(t, "pca_multiview", lossInstance.Name())

	// A training sample itself must reproject with negligible error.
	_, logs := evalLoss(t, lossInstance, StageTrain, func(g *Graph) Batch {
		return Batch{PredictedKeypoints: Const(g, [][]float32{{3, 6, 4, 7, 9, 3, 10, 4}})}
	})
	require.InDelta(t, 0.0, logs["train_pca_multiview_loss"], 1e-3)
}

func TestPCAConfiguration(t *testing.T) {
	require.Panics(t, func() { NewPCA(nil, Config{}) })
	require.Panics(t, func() {
		ByName("pca_multiview", Config{TrainingKeypoints: rankOneKeypoints(9)})
	}, "multiview without a column-match table")
	require.Panics(t, func() {
		ByName("pca_singleview", Config{})
	}, "neither a pre-fitted model nor training keypoints")

	fitted, err := pca.Fit(rankOneKeypoints(9), pca.Options{})
	require.NoError(t, err)
	require.Panics(t, func() {
		ByName("pca_multiview", Config{PCA: fitted})
	}, "singleview model handed to the multiview loss")
	require.NotPanics(t, func() {
		ByName("pca_singleview", Config{PCA: fitted})
	})
}
