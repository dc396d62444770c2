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

// Package sinkhorn computes entropic-regularized optimal-transport distances
// between batches of heatmaps, treating each heatmap as a measure supported on
// its pixel grid.
//
// It implements the standard log-domain Sinkhorn scheme with a fixed number of
// iterations and returns the debiased divergence
// OT(a,b) - OT(a,a)/2 - OT(b,b)/2, which removes the entropic bias of the raw
// transport cost: identical measures have divergence ~0 regardless of how
// diffuse they are. The Reach option dampens the dual potentials, which bounds
// how far mass is effectively transported (unbalanced transport); without it
// the transport plan must move all mass, however far.
package sinkhorn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
)

const (
	// DefaultBlur is the default entropic blur scale, in pixels.
	DefaultBlur = 1.0

	// DefaultIterations is the default number of Sinkhorn iterations.
	DefaultIterations = 20

	// measureFloor is added below any normalization or log to keep zero-mass
	// pixels finite.
	measureFloor = 1e-8
)

type config struct {
	blur       float64
	iterations int
	reach      float64
}

// Option modifies the Sinkhorn configuration used by Distance.
type Option func(*config)

// WithBlur sets the blur scale, in pixels. The entropic regularization is
// epsilon = blur^2. It must be > 0. Smaller values approximate the exact
// Wasserstein distance better but converge slower.
func WithBlur(blur float64) Option {
	return func(c *config) { c.blur = blur }
}

// WithIterations sets the fixed number of Sinkhorn iterations. It must be > 0.
func WithIterations(n int) Option {
	return func(c *config) { c.iterations = n }
}

// WithReach bounds the maximum effective transport distance, in pixels.
// A reach of 0 means unconstrained (balanced) transport.
func WithReach(reach float64) Option {
	return func(c *config) { c.reach = reach }
}

// Distance returns the debiased entropic optimal-transport divergence between
// corresponding slices of a and b, both shaped [n, height, width] with
// nonnegative entries. Each slice is normalized to total mass 1 before
// transport. The result is shaped [n], one divergence per slice, ~0 when the
// slices coincide.
//
// Slices with no mass at all are normalized to a uniform measure; callers that
// use all-zero slices as a missing-label marker are expected to mask the
// corresponding outputs.
func Distance(a, b *Node, options ...Option) *Node {
	cfg := &config{blur: DefaultBlur, iterations: DefaultIterations}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.blur <= 0 {
		Panicf("sinkhorn.Distance requires blur > 0, got %g", cfg.blur)
	}
	if cfg.iterations <= 0 {
		Panicf("sinkhorn.Distance requires iterations > 0, got %d", cfg.iterations)
	}
	if cfg.reach < 0 {
		Panicf("sinkhorn.Distance requires reach >= 0 (0 meaning unconstrained), got %g", cfg.reach)
	}
	if !a.Shape().Equal(b.Shape()) {
		Panicf("sinkhorn.Distance requires tensors of the same shape, got %s and %s", a.Shape(), b.Shape())
	}
	if a.Rank() != 3 {
		Panicf("sinkhorn.Distance requires [n, height, width] tensors, got %s", a.Shape())
	}

	g := a.Graph()
	dtype := a.DType()
	n := a.Shape().Dim(0)
	height := a.Shape().Dim(1)
	width := a.Shape().Dim(2)
	numPixels := height * width

	epsilon := cfg.blur * cfg.blur
	dampening := 1.0
	if cfg.reach > 0 {
		rho := cfg.reach * cfg.reach
		dampening = rho / (rho + epsilon)
	}

	// Cost matrix over the pixel grid: half the squared Euclidean distance
	// between pixel (i) and pixel (j), shaped [numPixels, numPixels].
	gridShape := shapes.Make(dtype, height, width)
	rows := Reshape(Iota(g, gridShape, 0), numPixels)
	cols := Reshape(Iota(g, gridShape, 1), numPixels)
	dRows := Sub(InsertAxes(rows, -1), InsertAxes(rows, 0))
	dCols := Sub(InsertAxes(cols, -1), InsertAxes(cols, 0))
	cost := MulScalar(Add(Square(dRows), Square(dCols)), 0.5)

	logAlpha := logMeasure(a, n, numPixels)
	logBeta := logMeasure(b, n, numPixels)
	costOverEps := InsertAxes(DivScalar(cost, epsilon), 0) // [1, numPixels, numPixels]

	// Debiasing: the self-transport terms carry the same order-epsilon
	// entropic cost as the cross term, so subtracting them leaves ~0 for
	// identical measures.
	crossCost := transportCost(logAlpha, logBeta, costOverEps, epsilon, dampening, cfg.iterations)
	selfCostA := transportCost(logAlpha, logAlpha, costOverEps, epsilon, dampening, cfg.iterations)
	selfCostB := transportCost(logBeta, logBeta, costOverEps, epsilon, dampening, cfg.iterations)
	return Sub(crossCost, MulScalar(Add(selfCostA, selfCostB), 0.5))
}

// transportCost runs the fixed-iteration log-domain Sinkhorn loop between the
// measures exp(logAlpha) and exp(logBeta) and returns the entropic dual
// objective <alpha, f> + <beta, g>, shaped [n]. f and g are the dual
// potentials, shaped [n, numPixels].
func transportCost(logAlpha, logBeta *Node, costOverEps *Node, epsilon, dampening float64, iterations int) *Node {
	alpha := Exp(logAlpha)
	beta := Exp(logBeta)
	f := ZerosLike(logAlpha)
	gPotential := ZerosLike(logBeta)
	for range iterations {
		f = MulScalar(softMin(logBeta, gPotential, costOverEps, epsilon), dampening)
		gPotential = MulScalar(softMin(logAlpha, f, costOverEps, epsilon), dampening)
	}
	return Add(
		ReduceSum(Mul(alpha, f), -1),
		ReduceSum(Mul(beta, gPotential), -1))
}

// logMeasure flattens [n, h, w] slices into [n, numPixels] log-probabilities,
// normalizing each slice to total mass 1.
func logMeasure(x *Node, n, numPixels int) *Node {
	flat := MaxScalar(Reshape(x, n, numPixels), 0.0)
	total := ReduceAndKeep(flat, ReduceSum, -1)
	normalized := Div(AddScalar(flat, measureFloor), AddScalar(total, float64(numPixels)*measureFloor))
	return Log(normalized)
}

// softMin returns -epsilon * logsumexp_j(logWeights_j + potential_j/epsilon - cost_ij/epsilon),
// the softmin update of one Sinkhorn half-step. All of logWeights and potential
// are [n, numPixels]; costOverEps is [1, numPixels, numPixels].
func softMin(logWeights, potential *Node, costOverEps *Node, epsilon float64) *Node {
	terms := Sub(
		InsertAxes(Add(logWeights, DivScalar(potential, epsilon)), 1), // [n, 1, numPixels]
		costOverEps) // broadcast to [n, numPixels, numPixels]
	return MulScalar(logSumExp(terms, -1), -epsilon)
}

// logSumExp reduces the given axis with a numerically stable log-sum-exp.
func logSumExp(x *Node, axis int) *Node {
	maxKeep := StopGradient(ReduceAndKeep(x, ReduceMax, axis))
	return Add(
		Log(ReduceSum(Exp(Sub(x, maxKeep)), axis)),
		ReduceMax(StopGradient(x), axis))
}
