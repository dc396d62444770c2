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
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownLosses(t *testing.T) {
	for _, name := range []string{
		"regression", "rmse", "heatmap_mse", "heatmap_wasserstein", "temporal",
		"pca_singleview", "pca_multiview", "unimodal_mse", "unimodal_wasserstein",
	} {
		assert.Contains(t, KnownLosses, name)
	}
	assert.Len(t, KnownLosses, 9)

	require.Panics(t, func() { ByName("no_such_loss", Config{}) })
	assert.Equal(t, "temporal", ByName("temporal", Config{}).Name())
	assert.Equal(t, "regression_mse", ByName("regression", Config{}).Name())
}

func TestNewFactoryFromNamesLengthMismatch(t *testing.T) {
	require.Panics(t, func() {
		NewFactoryFromNames([]string{"temporal", "regression"}, []Config{{}})
	})
}

func TestFactoryTotal(t *testing.T) {
	factory := NewFactoryFromNames(
		[]string{"regression", "temporal"},
		[]Config{{}, {Epsilon: 1}})
	require.Len(t, factory.Losses(), 2)

	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	var logNames []string
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		batch := Batch{
			TargetKeypoints:    Const(g, [][]float32{{1, 2}, {3, 4}}),
			PredictedKeypoints: Const(g, [][]float32{{2, 2}, {3, 8}}),
		}
		total, logs := factory.Total(ctx, StageTrain, batch)
		// The same batch through each loss individually; the shared variables
		// are reused, so the weighted scalars must add up to the total.
		var sum *Node
		logNames = nil
		for _, lossInstance := range factory.Losses() {
			weighted, _ := lossInstance.LossGraph(ctx, StageTrain, batch)
			if sum == nil {
				sum = weighted
			} else {
				sum = Add(sum, weighted)
			}
		}
		for _, entry := range logs {
			logNames = append(logNames, entry.Name)
		}
		return []*Node{total, sum}
	})
	results := exec.Call()
	total := results[0].Value().(float32)
	sum := results[1].Value().(float32)
	require.InDelta(t, float64(sum), float64(total), 1e-6)
	require.Greater(t, total, float32(0))
	require.Equal(t, []string{
		"train_regression_mse_loss", "regression_mse_weight",
		"train_temporal_loss", "temporal_weight",
	}, logNames)

	require.Panics(t, func() {
		NewFactory().Total(context.New(), StageTrain, Batch{})
	})
}
