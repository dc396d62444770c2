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

// Package pca fits a low-dimensional linear subspace to labeled keypoint
// configurations and measures how far predictions fall outside it.
//
// Plausible body (or cross-camera-view) configurations are far lower-rank than
// their raw coordinate dimensionality, so the reprojection error onto a
// subspace fitted once on the labeled training split makes an effective
// unsupervised regularizer.
//
// The expensive part -- the fit -- happens on the host, once, via Fit; the
// fitted KeypointPCA is immutable and its per-step reprojection error is a
// pure graph function (see ReprojectionErrorGraph).
package pca

import (
	"math"
	"sort"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

const (
	// DefaultVarianceFraction of the training variance kept by the fitted
	// subspace when no explicit component count is configured.
	DefaultVarianceFraction = 0.95

	// DefaultEpsilonPercentile of the training-set reprojection errors used as
	// the epsilon-insensitivity threshold of the PCA loss.
	DefaultEpsilonPercentile = 0.90
)

// Options configures Fit.
type Options struct {
	// NumComponents fixes the number of kept components. When 0,
	// VarianceFraction decides instead.
	NumComponents int

	// VarianceFraction in (0, 1]: keep the smallest number of components whose
	// cumulative explained variance reaches this fraction.
	// Defaults to DefaultVarianceFraction. Ignored when NumComponents > 0.
	VarianceFraction float64

	// EpsilonPercentile in [0, 1]: the percentile of training reprojection
	// errors used as the loss epsilon. Defaults to DefaultEpsilonPercentile.
	EpsilonPercentile float64

	// MirroredColumnMatches describes, for each camera view, which keypoint
	// indices correspond to the same physical landmarks across views. All
	// groups must have the same length. When set, rows are regrouped so each
	// fitted sample is one landmark seen from every view; when nil the fit is
	// single-view and uses rows as-is.
	MirroredColumnMatches [][]int
}

// KeypointPCA is an immutable fitted subspace model. Zero value is invalid;
// use Fit.
type KeypointPCA struct {
	mean       []float64
	components [][]float64 // [numComponents][dim]
	variance   []float64   // explained-variance ratio of every component
	epsilon    float64
	matches    [][]int
}

// Fit computes the subspace model from labeled training keypoints.
//
// keypoints must be shaped [numSamples, 2*numKeypoints] with x,y interleaved
// per keypoint; rows (after any multiview regrouping) containing non-finite
// entries are treated as missing labels and dropped from the fit.
func Fit(keypoints *tensors.Tensor, opts Options) (*KeypointPCA, error) {
	if opts.VarianceFraction == 0 {
		opts.VarianceFraction = DefaultVarianceFraction
	}
	if opts.EpsilonPercentile == 0 {
		opts.EpsilonPercentile = DefaultEpsilonPercentile
	}
	if opts.NumComponents < 0 {
		return nil, errors.Errorf("pca.Fit: NumComponents must be >= 0, got %d", opts.NumComponents)
	}
	if opts.VarianceFraction <= 0 || opts.VarianceFraction > 1 {
		return nil, errors.Errorf("pca.Fit: VarianceFraction must be in (0, 1], got %g", opts.VarianceFraction)
	}
	if opts.EpsilonPercentile < 0 || opts.EpsilonPercentile > 1 {
		return nil, errors.Errorf("pca.Fit: EpsilonPercentile must be in [0, 1], got %g", opts.EpsilonPercentile)
	}

	rows, err := tensorToRows(keypoints)
	if err != nil {
		return nil, err
	}
	if opts.MirroredColumnMatches != nil {
		rows, err = formatMultiviewRows(rows, opts.MirroredColumnMatches)
		if err != nil {
			return nil, err
		}
	}
	rows = dropNonFiniteRows(rows)
	if len(rows) < 2 {
		return nil, errors.Errorf("pca.Fit: need at least 2 fully-labeled samples, got %d", len(rows))
	}
	dim := len(rows[0])
	if dim%2 != 0 {
		return nil, errors.Errorf("pca.Fit: keypoint dimension must be even (x,y pairs), got %d", dim)
	}

	mean := columnMeans(rows)
	centered := mat.NewDense(len(rows), dim, nil)
	for i, row := range rows {
		for j, v := range row {
			centered.Set(i, j, v-mean[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return nil, errors.Errorf("pca.Fit: SVD of the centered %dx%d keypoint matrix failed to converge", len(rows), dim)
	}
	singularValues := svd.Values(nil)
	var components mat.Dense
	svd.VTo(&components) // [dim, numFactors], columns are principal directions.

	totalVariance := 0.0
	variance := make([]float64, len(singularValues))
	for i, s := range singularValues {
		variance[i] = s * s / float64(len(rows)-1)
		totalVariance += variance[i]
	}
	if totalVariance <= 0 {
		return nil, errors.Errorf("pca.Fit: training keypoints have zero variance")
	}
	for i := range variance {
		variance[i] /= totalVariance
	}

	kept := opts.NumComponents
	if kept == 0 {
		cumulative := 0.0
		for _, ratio := range variance {
			cumulative += ratio
			kept++
			if cumulative >= opts.VarianceFraction {
				break
			}
		}
	}
	if kept > len(singularValues) {
		return nil, errors.Errorf("pca.Fit: asked to keep %d components but only %d are available",
			kept, len(singularValues))
	}

	p := &KeypointPCA{
		mean:       mean,
		components: make([][]float64, kept),
		variance:   variance,
		matches:    opts.MirroredColumnMatches,
	}
	for c := 0; c < kept; c++ {
		p.components[c] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			p.components[c][j] = components.At(j, c)
		}
	}

	trainErrors := p.reprojectionErrors(rows)
	sort.Float64s(trainErrors)
	p.epsilon = stat.Quantile(opts.EpsilonPercentile, stat.LinInterp, trainErrors, nil)

	keptVariance := 0.0
	for _, ratio := range variance[:kept] {
		keptVariance += ratio
	}
	klog.V(1).Infof("pca.Fit: %d samples, dim=%d, kept %d components (%.1f%% variance), epsilon=%.4g",
		len(rows), dim, kept, 100*keptVariance, p.epsilon)
	return p, nil
}

// Epsilon is the empirically fitted epsilon-insensitivity threshold: the
// configured percentile of training-set reprojection errors.
func (p *KeypointPCA) Epsilon() float64 { return p.epsilon }

// NumComponents kept by the fit.
func (p *KeypointPCA) NumComponents() int { return len(p.components) }

// Dim is the dimensionality of the fitted space (2*numKeypoints, or
// 2*numViews per landmark group for multiview fits).
func (p *KeypointPCA) Dim() int { return len(p.mean) }

// ExplainedVarianceRatio of every available component, kept or not.
func (p *KeypointPCA) ExplainedVarianceRatio() []float64 {
	out := make([]float64, len(p.variance))
	copy(out, p.variance)
	return out
}

// MirroredColumnMatches returns the cross-view column-match table, or nil for
// single-view fits.
func (p *KeypointPCA) MirroredColumnMatches() [][]int { return p.matches }

// Multiview reports whether the fit regrouped keypoints across camera views.
func (p *KeypointPCA) Multiview() bool { return p.matches != nil }

// reprojectionErrors projects every row onto the kept subspace and back,
// returning the Euclidean error of each (x,y) pair of each row.
func (p *KeypointPCA) reprojectionErrors(rows [][]float64) []float64 {
	dim := p.Dim()
	numPairs := dim / 2
	out := make([]float64, 0, len(rows)*numPairs)
	coeffs := make([]float64, len(p.components))
	for _, row := range rows {
		for c, component := range p.components {
			dot := 0.0
			for j, v := range component {
				dot += v * (row[j] - p.mean[j])
			}
			coeffs[c] = dot
		}
		for pair := 0; pair < numPairs; pair++ {
			errSquared := 0.0
			for _, j := range []int{2 * pair, 2*pair + 1} {
				reprojected := p.mean[j]
				for c, component := range p.components {
					reprojected += coeffs[c] * component[j]
				}
				diff := row[j] - reprojected
				errSquared += diff * diff
			}
			out = append(out, math.Sqrt(errSquared))
		}
	}
	return out
}

// formatMultiviewRows regroups [numSamples][2*numKeypoints] rows so each
// output row is one matched landmark seen from every view:
// [numSamples*numMatched][2*numViews].
func formatMultiviewRows(rows [][]float64, matches [][]int) ([][]float64, error) {
	if len(matches) < 2 {
		return nil, errors.Errorf("pca: multiview column matches need at least 2 views, got %d", len(matches))
	}
	numMatched := len(matches[0])
	for v, group := range matches {
		if len(group) != numMatched {
			return nil, errors.Errorf("pca: column-match groups must have equal lengths, view 0 has %d but view %d has %d",
				numMatched, v, len(group))
		}
	}
	if numMatched == 0 {
		return nil, errors.Errorf("pca: column-match groups are empty")
	}
	numKeypoints := len(rows[0]) / 2
	for v, group := range matches {
		for _, keypoint := range group {
			if keypoint < 0 || keypoint >= numKeypoints {
				return nil, errors.Errorf("pca: view %d matches keypoint %d, out of range [0, %d)",
					v, keypoint, numKeypoints)
			}
		}
	}

	out := make([][]float64, 0, len(rows)*numMatched)
	for _, row := range rows {
		for m := 0; m < numMatched; m++ {
			grouped := make([]float64, 0, 2*len(matches))
			for _, group := range matches {
				keypoint := group[m]
				grouped = append(grouped, row[2*keypoint], row[2*keypoint+1])
			}
			out = append(out, grouped)
		}
	}
	return out, nil
}

func tensorToRows(t *tensors.Tensor) ([][]float64, error) {
	shape := t.Shape()
	if shape.Rank() != 2 {
		return nil, errors.Errorf("pca: keypoints must be shaped [numSamples, 2*numKeypoints], got %s", shape)
	}
	numSamples := shape.Dimensions[0]
	dim := shape.Dimensions[1]
	if dim == 0 || dim%2 != 0 {
		return nil, errors.Errorf("pca: keypoints must have an even, positive number of columns, got %d", dim)
	}
	flat := make([]float64, numSamples*dim)
	var badDType error
	t.ConstFlatData(func(data any) {
		switch values := data.(type) {
		case []float32:
			for i, v := range values {
				flat[i] = float64(v)
			}
		case []float64:
			copy(flat, values)
		default:
			badDType = errors.Errorf("pca: keypoints must be Float32 or Float64, got %s", shape.DType)
		}
	})
	if badDType != nil {
		return nil, badDType
	}
	rows := make([][]float64, numSamples)
	for i := range rows {
		rows[i] = flat[i*dim : (i+1)*dim]
	}
	return rows, nil
}

func dropNonFiniteRows(rows [][]float64) [][]float64 {
	out := rows[:0:0]
	for _, row := range rows {
		finite := true
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				finite = false
				break
			}
		}
		if finite {
			out = append(out, row)
		}
	}
	return out
}

func columnMeans(rows [][]float64) []float64 {
	means := make([]float64, len(rows[0]))
	for _, row := range rows {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(rows))
	}
	return means
}
