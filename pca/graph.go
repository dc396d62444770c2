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

package pca

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
)

// ReprojectionErrorGraph projects data onto the kept subspace and back,
// returning the Euclidean distance between each (x,y) pair and its
// reprojection.
//
// data must be shaped [batch, dim] with dim == p.Dim() (multiview callers
// reformat with FormatMultiviewGraph first). The result is shaped
// [batch, dim/2]. The fitted mean and components enter the graph as constants
// in data's dtype, so the projection runs on whatever device the graph does.
func (p *KeypointPCA) ReprojectionErrorGraph(data *Node) *Node {
	if data.Rank() != 2 || data.Shape().Dim(-1) != p.Dim() {
		Panicf("pca: reprojection requires data shaped [batch, %d], got %s", p.Dim(), data.Shape())
	}
	g := data.Graph()
	dtype := data.DType()
	batchSize := data.Shape().Dim(0)

	mean := ConvertDType(Const(g, p.mean), dtype)             // [dim]
	components := ConvertDType(Const(g, p.components), dtype) // [numComponents, dim]

	centered := Sub(data, InsertAxes(mean, 0))
	coefficients := MatMul(centered, Transpose(components, 0, 1)) // [batch, numComponents]
	reprojected := Add(MatMul(coefficients, components), InsertAxes(mean, 0))
	diff := Sub(data, reprojected)
	pairs := Reshape(diff, batchSize, p.Dim()/2, 2)
	return L2Norm(pairs, -1)
}

// FormatMultiviewGraph regroups keypoint predictions across camera views
// following the fitted column-match table: [batch, numKeypoints, 2] becomes
// [batch*numMatched, 2*numViews], with each output row holding one matched
// landmark's coordinates from every view. It is the graph-side counterpart of
// the regrouping applied to the training data at fit time.
func (p *KeypointPCA) FormatMultiviewGraph(keypoints *Node) *Node {
	if !p.Multiview() {
		Panicf("pca: FormatMultiviewGraph requires a multiview fit (no column-match table present)")
	}
	if keypoints.Rank() != 3 || keypoints.Shape().Dim(-1) != 2 {
		Panicf("pca: FormatMultiviewGraph requires keypoints shaped [batch, numKeypoints, 2], got %s",
			keypoints.Shape())
	}
	g := keypoints.Graph()
	batchSize := keypoints.Shape().Dim(0)
	numKeypoints := keypoints.Shape().Dim(1)
	numMatched := len(p.matches[0])

	// Gather operates on the leading axis, so move keypoints there first.
	byKeypoint := TransposeAllDims(keypoints, 1, 0, 2) // [numKeypoints, batch, 2]
	views := make([]*Node, len(p.matches))
	for v, group := range p.matches {
		indices := make([][]int32, len(group))
		for m, keypoint := range group {
			if keypoint < 0 || keypoint >= numKeypoints {
				Panicf("pca: column-match table refers to keypoint %d but predictions only have %d keypoints",
					keypoint, numKeypoints)
			}
			indices[m] = []int32{int32(keypoint)}
		}
		selected := Gather(byKeypoint, Const(g, indices)) // [numMatched, batch, 2]
		views[v] = TransposeAllDims(selected, 1, 0, 2)    // [batch, numMatched, 2]
	}
	grouped := Concatenate(views, -1) // [batch, numMatched, 2*numViews]
	return Reshape(grouped, batchSize*numMatched, 2*len(p.matches))
}
