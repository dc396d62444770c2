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

package heatmaps

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func renderSingle(t *testing.T, x, y float32, cfg RenderGaussianConfig) [][]float32 {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "render")
	keypoints := Reshape(Const(g, []float32{x, y}), 1, 1, 2)
	heatmap := RenderGaussian(keypoints, cfg)
	g.Compile(heatmap)
	results := g.Run()
	values := results[0].Value().([][][][]float32)
	require.Len(t, values, 1)
	require.Len(t, values[0], 1)
	return values[0][0]
}

func TestRenderGaussianCenteredPeak(t *testing.T) {
	const size = 5
	cfg := RenderGaussianConfig{
		Height: size, Width: size,
		OutputHeight: size, OutputWidth: size,
		Sigma: 1.0, Normalized: true,
	}
	heatmap := renderSingle(t, 2, 2, cfg)

	// Maximum at the keypoint pixel, value exactly 1 for the normalized form.
	require.InDelta(t, 1.0, heatmap[2][2], 1e-6)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			if row == 2 && col == 2 {
				continue
			}
			require.Less(t, heatmap[row][col], heatmap[2][2],
				"peak must be at the keypoint, but (%d,%d) >= center", row, col)
		}
	}

	// Response decays monotonically with distance from the center along a row.
	require.Greater(t, heatmap[2][2], heatmap[2][3])
	require.Greater(t, heatmap[2][3], heatmap[2][4])
	// One pixel away is exp(-1/2).
	require.InDelta(t, math.Exp(-0.5), float64(heatmap[2][3]), 1e-5)
	// Symmetry.
	require.InDelta(t, float64(heatmap[2][1]), float64(heatmap[2][3]), 1e-6)
	require.InDelta(t, float64(heatmap[1][2]), float64(heatmap[3][2]), 1e-6)
}

func TestRenderGaussianRescalesToOutputResolution(t *testing.T) {
	// Keypoint at (8, 4) in a 16x16 image, rendered on an 8x8 grid, lands on
	// output pixel (x=4, y=2).
	cfg := RenderGaussianConfig{
		Height: 16, Width: 16,
		OutputHeight: 8, OutputWidth: 8,
		Sigma: 1.0, Normalized: true,
	}
	heatmap := renderSingle(t, 8, 4, cfg)
	require.InDelta(t, 1.0, heatmap[2][4], 1e-6)
}

func TestRenderGaussianUnnormalizedScale(t *testing.T) {
	cfg := RenderGaussianConfig{
		Height: 5, Width: 5,
		OutputHeight: 5, OutputWidth: 5,
		Sigma: 2.0, Normalized: false,
	}
	heatmap := renderSingle(t, 2, 2, cfg)
	require.InDelta(t, 1.0/(2.0*math.Sqrt(2.0*math.Pi)), float64(heatmap[2][2]), 1e-5)
}

func TestRenderGaussianMissingKeypointIsAllZero(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "missing keypoint")
	nan := float32(math.NaN())
	// Keypoint 0 is missing, keypoint 1 is valid.
	keypoints := Reshape(Const(g, []float32{nan, nan, 1, 1}), 1, 2, 2)
	heatmap := RenderGaussian(keypoints, RenderGaussianConfig{
		Height: 3, Width: 3, OutputHeight: 3, OutputWidth: 3, Sigma: 1.0, Normalized: true,
	})
	g.Compile(heatmap)
	results := g.Run()
	values := results[0].Value().([][][][]float32)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			require.Zero(t, values[0][0][row][col], "missing keypoint must render all zeros")
		}
	}
	require.InDelta(t, 1.0, values[0][1][1][1], 1e-6, "valid keypoint must still render")
}

func TestKeypointsToGrid(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "keypoints to grid")
	keypoints := Const(g, [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}})
	grid := KeypointsToGrid(keypoints)
	g.Compile(grid)
	results := g.Run()
	require.Equal(t, [][][]float32{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}},
		results[0].Value().([][][]float32))

	rank3 := Reshape(keypoints, 2, 2, 2)
	require.Panics(t, func() { KeypointsToGrid(rank3) })
}
