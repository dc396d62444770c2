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
	"github.com/gomlx/gomlx/types/tensors"
	"golang.org/x/exp/maps"

	"github.com/ganeshsamarth/lightning-pose/pca"
	"github.com/ganeshsamarth/lightning-pose/sinkhorn"
)

// Config is the flat configuration surface from which every loss variant is
// constructible. Each variant reads only the fields it understands; zero
// values select the documented defaults.
type Config struct {
	// Epsilon threshold for epsilon-insensitivity, where the variant applies
	// it (temporal). PCA losses ignore it: their epsilon is fitted from data.
	Epsilon float64

	// LogWeight is the initial value of the trainable log_weight parameter.
	// The derived weight is 1/(2*exp(LogWeight)): 0 yields weight 0.5.
	LogWeight float64

	// Reduction method; the zero value is ReductionMean.
	Reduction Reduction

	// Reach bounds the maximum transport distance of the Wasserstein
	// variants, in pixels; 0 means unconstrained.
	Reach float64

	// Blur and SinkhornIterations tune the optimal-transport solver; zero
	// values use the sinkhorn package defaults.
	Blur               float64
	SinkhornIterations int

	// PCA holds a pre-fitted subspace model for the PCA losses. When nil, the
	// factory fits one from TrainingKeypoints using the fields below.
	PCA               *pca.KeypointPCA
	TrainingKeypoints *tensors.Tensor

	// NumComponents, VarianceFraction and EpsilonPercentile configure the PCA
	// fit; see pca.Options.
	NumComponents     int
	VarianceFraction  float64
	EpsilonPercentile float64

	// MirroredColumnMatches is the cross-view column-match table, required by
	// pca_multiview and meaningless elsewhere.
	MirroredColumnMatches [][]int

	// Original and downsampled image sizes, required by the unimodal losses
	// to rescale predicted coordinates to heatmap resolution.
	OriginalImageHeight, OriginalImageWidth       int
	DownsampledImageHeight, DownsampledImageWidth int

	// Sigma of the synthesized Gaussian bumps, in heatmap pixels; 0 means 1.
	Sigma float64
}

func (cfg Config) sinkhornOptions() []sinkhorn.Option {
	var opts []sinkhorn.Option
	if cfg.Reach > 0 {
		opts = append(opts, sinkhorn.WithReach(cfg.Reach))
	}
	if cfg.Blur > 0 {
		opts = append(opts, sinkhorn.WithBlur(cfg.Blur))
	}
	if cfg.SinkhornIterations > 0 {
		opts = append(opts, sinkhorn.WithIterations(cfg.SinkhornIterations))
	}
	return opts
}

// KnownLosses maps configuration names to loss constructors. Constructors
// panic on fatal configuration errors (e.g. pca_multiview without a
// column-match table).
var KnownLosses = map[string]func(Config) Interface{
	"regression":           func(cfg Config) Interface { return NewRegressionMSE(cfg) },
	"rmse":                 func(cfg Config) Interface { return NewRegressionRMSE(cfg) },
	"heatmap_mse":          func(cfg Config) Interface { return NewHeatmapMSE(cfg) },
	"heatmap_wasserstein":  func(cfg Config) Interface { return NewHeatmapWasserstein(cfg) },
	"temporal":             func(cfg Config) Interface { return NewTemporal(cfg) },
	"pca_singleview":       func(cfg Config) Interface { return NewPCA(fittedPCA(cfg, false), cfg) },
	"pca_multiview":        func(cfg Config) Interface { return NewPCA(fittedPCA(cfg, true), cfg) },
	"unimodal_mse":         func(cfg Config) Interface { return NewUnimodal(UnimodalMSE, cfg) },
	"unimodal_wasserstein": func(cfg Config) Interface { return NewUnimodal(UnimodalWasserstein, cfg) },
}

// ByName constructs the named loss from cfg, or panics listing the valid
// names. Unknown names are fatal configuration errors.
func ByName(name string, cfg Config) Interface {
	constructor, found := KnownLosses[name]
	if !found {
		Panicf("unknown loss %q, valid values are %v", name, maps.Keys(KnownLosses))
	}
	return constructor(cfg)
}

// fittedPCA returns cfg.PCA or fits a model from cfg.TrainingKeypoints. The
// fit over the full labeled training set is the one expensive setup step of
// this package; prefer running pca.Fit yourself and passing the result in
// cfg.PCA when constructing several losses from the same data.
func fittedPCA(cfg Config, multiview bool) *pca.KeypointPCA {
	if cfg.PCA != nil {
		if cfg.PCA.Multiview() != multiview {
			Panicf("pre-fitted PCA model is %s but the configured loss wants %s",
				pcaKind(cfg.PCA.Multiview()), pcaKind(multiview))
		}
		return cfg.PCA
	}
	if cfg.TrainingKeypoints == nil {
		Panicf("PCA losses need either a pre-fitted Config.PCA or Config.TrainingKeypoints to fit from")
	}
	opts := pca.Options{
		NumComponents:     cfg.NumComponents,
		VarianceFraction:  cfg.VarianceFraction,
		EpsilonPercentile: cfg.EpsilonPercentile,
	}
	if multiview {
		if cfg.MirroredColumnMatches == nil {
			Panicf("pca_multiview requires Config.MirroredColumnMatches: a multiview subspace cannot be defined " +
				"without cross-view coordinate correspondences")
		}
		opts.MirroredColumnMatches = cfg.MirroredColumnMatches
	}
	fitted, err := pca.Fit(cfg.TrainingKeypoints, opts)
	if err != nil {
		Panicf("PCA fit failed: %+v", err)
	}
	return fitted
}

func pcaKind(multiview bool) string {
	if multiview {
		return "multiview"
	}
	return "singleview"
}

// Factory aggregates several configured loss instances and evaluates them as
// one objective term, the contract the training loop consumes.
type Factory struct {
	losses []Interface
}

// NewFactory builds a factory over already-constructed losses.
func NewFactory(lossInstances ...Interface) *Factory {
	return &Factory{losses: lossInstances}
}

// NewFactoryFromNames constructs each named loss via ByName with its own
// configuration. names and configs must have the same length.
func NewFactoryFromNames(names []string, configs []Config) *Factory {
	if len(names) != len(configs) {
		Panicf("NewFactoryFromNames requires one Config per name, got %d names and %d configs",
			len(names), len(configs))
	}
	lossInstances := make([]Interface, len(names))
	for i, name := range names {
		lossInstances[i] = ByName(name, configs[i])
	}
	return NewFactory(lossInstances...)
}

// Losses returns the aggregated loss instances, in evaluation order.
func (f *Factory) Losses() []Interface { return f.losses }

// Total evaluates every loss on the batch, returning the sum of their
// weighted scalars and the concatenation of their log entries. Any additional
// global scaling is the caller's.
func (f *Factory) Total(ctx *context.Context, stage Stage, batch Batch) (*Node, []LogEntry) {
	if len(f.losses) == 0 {
		Panicf("losses.Factory has no losses configured")
	}
	var total *Node
	var logs []LogEntry
	for _, loss := range f.losses {
		weighted, lossLogs := loss.LossGraph(ctx, stage, batch)
		if total == nil {
			total = weighted
		} else {
			total = Add(total, weighted)
		}
		logs = append(logs, lossLogs...)
	}
	return total, logs
}
