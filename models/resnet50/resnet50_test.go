// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"flag"
	"math"
	"testing"

	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/gomlx/resnet50/pkg/ml/weights"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flagPretrainedDir = flag.String("pretrained_dir", "",
	"Directory with the unpacked pretrained weights (with the classification head), see DownloadWeights. "+
		"If set, inference with the pretrained weights is tested.")

const (
	numParametersWithTop    = 25_636_712
	numParametersWithoutTop = 23_587_712
)

func TestNetworkStructure(t *testing.T) {
	net, err := New(context.New()).Done()
	require.NoError(t, err)
	assert.Equal(t, []int{-1, DefaultImageSize, DefaultImageSize, NumChannels}, net.InputShape().Dimensions)
	assert.Equal(t, []int{-1, DefaultNumClasses}, net.OutputShape().Dimensions)
	assert.True(t, net.IncludeTop())
	assert.Equal(t, numParametersWithTop, net.NumParameters())

	// 53 convolutions and 53 batch normalizations, plus the dense head.
	assert.Len(t, net.Parameters(), 53*2+53*4+2)
	assert.Len(t, net.Blocks(), 16)
	var blockNames []string
	for _, b := range net.Blocks() {
		blockNames = append(blockNames, b.Name)
	}
	assert.Equal(t, []string{"2a", "2b", "2c", "3a", "3b", "3c", "3d", "4a", "4b", "4c", "4d", "4e", "4f",
		"5a", "5b", "5c"}, blockNames)

	names := net.ParameterNames()
	assert.Equal(t, "conv1/kernel", names[0])
	assert.Contains(t, names, "bn_conv1/moving_variance")
	assert.Contains(t, names, "res5c_branch2c/bias")
	assert.Contains(t, names, "bn4a_branch1/gamma")
	assert.Equal(t, "fc1000/bias", names[len(names)-1])

	stemKernel := net.ctx.InspectVariable("/conv1", "kernel")
	require.NotNil(t, stemKernel)
	assert.Equal(t, []int{7, 7, 3, 64}, stemKernel.Shape().Dimensions)
	fcKernel := net.ctx.InspectVariable("/fc1000", "kernel")
	require.NotNil(t, fcKernel)
	assert.Equal(t, []int{2048, 1000}, fcKernel.Shape().Dimensions)

	// Spatial resolution per stage.
	for _, b := range net.Blocks() {
		var want int
		switch b.Name[0] {
		case '2':
			want = 56
		case '3':
			want = 28
		case '4':
			want = 14
		case '5':
			want = 7
		}
		assert.Equal(t, want, b.Output.Shape().Dim(1), "block %s", b.Name)
	}

	summary := net.Summary()
	require.Len(t, summary, len(net.Layers()))
	assert.Equal(t, StemConvName, summary[0].Name)
	assert.Equal(t, LayerTypeConv, summary[0].Type)
	assert.Equal(t, 7*7*3*64+64, summary[0].NumParameters)
	assert.Equal(t, []int{-1, 112, 112, 64}, summary[0].OutputShape.Dimensions)
	last := summary[len(summary)-1]
	assert.Equal(t, HeadDenseName, last.Name)
	assert.Equal(t, 2048*1000+1000, last.NumParameters)
	var total int
	for _, layer := range summary {
		total += layer.NumParameters
	}
	assert.Equal(t, numParametersWithTop, total)
}

func TestNetworkHeadless(t *testing.T) {
	testCases := []struct {
		pooling  Pooling
		wantDims []int
	}{
		{PoolingNone, []int{-1, 7, 7, NumFeatures}},
		{PoolingAverage, []int{-1, NumFeatures}},
		{PoolingMax, []int{-1, NumFeatures}},
	}
	for _, tc := range testCases {
		t.Run(tc.pooling.String(), func(t *testing.T) {
			net, err := New(context.New()).IncludeTop(false).Pooling(tc.pooling).Done()
			require.NoError(t, err)
			assert.Equal(t, tc.wantDims, net.OutputShape().Dimensions)
			assert.Equal(t, numParametersWithoutTop, net.NumParameters())
			assert.NotContains(t, net.ParameterNames(), "fc1000/kernel")
		})
	}

	// Larger images give larger feature maps.
	net, err := New(context.New()).IncludeTop(false).InputShape(256, 320, 3).Done()
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 8, 10, NumFeatures}, net.OutputShape().Dimensions)
}

func TestNetworkDeterministic(t *testing.T) {
	net1, err := New(context.New()).IncludeTop(false).Done()
	require.NoError(t, err)
	net2, err := New(context.New()).IncludeTop(false).Done()
	require.NoError(t, err)
	require.Equal(t, net1.ParameterNames(), net2.ParameterNames())
	for ii, v1 := range net1.Parameters() {
		v2 := net2.Parameters()[ii]
		require.True(t, v1.Shape().Equal(v2.Shape()), "parameter %s", v1.ParameterName())
	}
	// Initial values only depend on the parameter names.
	assert.True(t, net1.Parameters()[0].Value().Equal(net2.Parameters()[0].Value()))
}

func TestConfigValidate(t *testing.T) {
	_, err := New(context.New()).InputShape(196, 224, 3).Done()
	require.ErrorContains(t, err, "too small")
	_, err = New(context.New()).IncludeTop(false).InputShape(224, 196, 3).Done()
	require.ErrorContains(t, err, "too small")
	_, err = New(context.New()).NumClasses(0).Done()
	require.Error(t, err)
	_, err = New(context.New()).Pooling(Pooling(5)).Done()
	require.Error(t, err)

	store := weights.Map{}
	require.ErrorContains(t, New(context.New()).NumClasses(10).PreTrained(store).Validate(), "1000 classes")
	require.ErrorContains(t, New(context.New()).InputShape(256, 256, 3).PreTrained(store).Validate(), "input shape")
	require.ErrorContains(t, New(context.New()).IncludeTop(false).InputShape(224, 224, 1).PreTrained(store).Validate(),
		"channels")
	require.NoError(t, New(context.New()).IncludeTop(false).InputShape(256, 256, 3).PreTrained(store).Validate())
	require.NoError(t, New(context.New()).NumClasses(10).Validate())
}

func TestFromContext(t *testing.T) {
	ctx := context.New()
	SetDefaultParams(ctx)
	cfg, err := FromContext(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.includeTop)
	assert.Equal(t, DefaultNumClasses, cfg.numClasses)
	assert.Equal(t, [3]int{224, 224, 3}, cfg.inputShape)

	ctx.SetParams(map[string]any{
		ParamIncludeTop: false,
		ParamPooling:    "avg",
		ParamImageSize:  256,
	})
	cfg, err = FromContext(ctx)
	require.NoError(t, err)
	assert.False(t, cfg.includeTop)
	assert.Equal(t, PoolingAverage, cfg.pooling)
	assert.Equal(t, [3]int{256, 256, 3}, cfg.inputShape)

	ctx.SetParam(ParamPooling, "median")
	_, err = FromContext(ctx)
	require.Error(t, err)
}

func TestParsePooling(t *testing.T) {
	for name, want := range map[string]Pooling{"": PoolingNone, "none": PoolingNone, "avg": PoolingAverage,
		"Average": PoolingAverage, "max": PoolingMax} {
		got, err := ParsePooling(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, "ParsePooling(%q)", name)
	}
	_, err := ParsePooling("min")
	require.Error(t, err)
	assert.Equal(t, "avg", PoolingAverage.String())
}

// constantStore returns a store with a constant value for each parameter of the network.
func constantStore(net *Network, value float32) weights.Map {
	store := make(weights.Map)
	for _, v := range net.Parameters() {
		store[v.ParameterName()] = tensors.FromScalarAndDimensions(value, v.Shape().Dimensions...)
	}
	return store
}

func TestLoadWeights(t *testing.T) {
	net, err := New(context.New()).IncludeTop(false).Done()
	require.NoError(t, err)
	store := constantStore(net, 0.5)
	delete(store, "bn_conv1/beta")
	store["unknown_layer/kernel"] = tensors.FromScalarAndDimensions(1, 2)

	report, err := net.LoadWeights(store)
	require.NoError(t, err)
	assert.Len(t, report.Matched, len(net.Parameters())-1)
	assert.Equal(t, []string{"bn_conv1/beta"}, report.MissingInStore)
	assert.Equal(t, []string{"unknown_layer/kernel"}, report.UnusedInStore)
	v := net.ctx.InspectVariable("/res3a_branch2b", "kernel")
	require.NotNil(t, v)
	v.Value().ConstFlatData(func(flat []float32) {
		assert.Equal(t, float32(0.5), flat[0])
		assert.Equal(t, float32(0.5), flat[len(flat)-1])
	})

	// Binding twice gives the same result.
	report2, err := net.LoadWeights(store)
	require.NoError(t, err)
	assert.Equal(t, report, report2)

	// A shape mismatch fails and leaves the values untouched.
	bad := constantStore(net, 2)
	bad["res2a_branch2a/kernel"] = tensors.FromScalarAndDimensions(2, 1, 1, 64, 65)
	_, err = net.LoadWeights(bad)
	require.ErrorContains(t, err, "res2a_branch2a/kernel")
	v.Value().ConstFlatData(func(flat []float32) {
		assert.Equal(t, float32(0.5), flat[0])
	})
}

func TestLoadWeightsInSubScope(t *testing.T) {
	ctx := context.New().In("model")
	net, err := New(ctx).IncludeTop(false).Done()
	require.NoError(t, err)
	assert.Equal(t, "model/conv1/kernel", net.ParameterNames()[0])

	// Store names are relative to the scope where the network was built.
	store := weights.Map{"conv1/kernel": tensors.FromScalarAndDimensions(0.25, 7, 7, 3, 64)}
	report, err := net.LoadWeights(store)
	require.NoError(t, err)
	assert.Equal(t, []string{"model/conv1/kernel"}, report.Matched)
	assert.Empty(t, report.UnusedInStore)
}

func TestPreTrained(t *testing.T) {
	reference, err := New(context.New()).IncludeTop(false).Done()
	require.NoError(t, err)
	store := constantStore(reference, 0.125)

	net, err := New(context.New()).IncludeTop(false).PreTrained(store).Done()
	require.NoError(t, err)
	for _, v := range net.Parameters() {
		v.Value().ConstFlatData(func(flat []float32) {
			require.Equal(t, float32(0.125), flat[0], "parameter %s", v.ParameterName())
		})
	}
}

func TestPredictShapeMismatch(t *testing.T) {
	net, err := New(context.New()).IncludeTop(false).Done()
	require.NoError(t, err)
	_, err = net.Predict(tensors.FromScalarAndDimensions(0, 1, 200, 200, 3))
	require.ErrorContains(t, err, "doesn't match")
	_, err = net.Predict(nil)
	require.Error(t, err)
}

func TestPredict(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full ResNet50 inference in short mode.")
	}
	net, err := New(context.New()).Done()
	require.NoError(t, err)

	// A uniform gray image.
	img := Preprocess(tensors.FromScalarAndDimensions(127, DefaultImageSize, DefaultImageSize, NumChannels))
	probs, err := net.Predict(img)
	require.NoError(t, err)
	require.Equal(t, []int{1, DefaultNumClasses}, probs.Shape().Dimensions)
	var sum float64
	probs.ConstFlatData(func(flat []float32) {
		for _, p := range flat {
			require.False(t, math.IsNaN(float64(p)))
			require.GreaterOrEqual(t, p, float32(0))
			sum += float64(p)
		}
	})
	assert.InDelta(t, 1.0, sum, 1e-5)

	predictions, err := DecodePredictions(probs, nil, DefaultTopK)
	require.NoError(t, err)
	require.Len(t, predictions, 1)
	require.Len(t, predictions[0], DefaultTopK)
	for ii := 1; ii < DefaultTopK; ii++ {
		assert.GreaterOrEqual(t, predictions[0][ii-1].Score, predictions[0][ii].Score)
	}

	// Same input twice in a batch gives the same output.
	batch := tensors.FromScalarAndDimensions(0, 2, DefaultImageSize, DefaultImageSize, NumChannels)
	img.ConstFlatData(func(single []float32) {
		batch.MutableFlatData(func(flat []float32) {
			copy(flat, single)
			copy(flat[len(single):], single)
		})
	})
	probs2, err := net.Predict(batch)
	require.NoError(t, err)
	probs2.ConstFlatData(func(flat []float32) {
		probs.ConstFlatData(func(want []float32) {
			assert.InDeltaSlice(t, want, flat[:DefaultNumClasses], 1e-5)
			assert.InDeltaSlice(t, want, flat[DefaultNumClasses:], 1e-5)
		})
	})
}

func TestPredictHeadless(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full ResNet50 inference in short mode.")
	}
	net, err := New(context.New()).IncludeTop(false).Pooling(PoolingAverage).
		InputShape(MinimumImageSize, MinimumImageSize, NumChannels).Done()
	require.NoError(t, err)
	features, err := net.Predict(tensors.FromScalarAndDimensions(0, 1, MinimumImageSize, MinimumImageSize, NumChannels))
	require.NoError(t, err)
	assert.Equal(t, []int{1, NumFeatures}, features.Shape().Dimensions)
	features.ConstFlatData(func(flat []float32) {
		for _, v := range flat {
			// Features are averages of ReLU outputs.
			require.GreaterOrEqual(t, v, float32(0))
		}
	})
}

func TestPredictPretrained(t *testing.T) {
	if *flagPretrainedDir == "" {
		t.Skip("Set -pretrained_dir to test inference with the pretrained weights.")
	}
	store := weights.NpyDir(*flagPretrainedDir)
	net, err := New(context.New()).Done()
	require.NoError(t, err)
	report, err := net.LoadWeights(store)
	require.NoError(t, err)
	require.Empty(t, report.MissingInStore, "all parameters must be in the pretrained weights")

	img := Preprocess(tensors.FromScalarAndDimensions(127, DefaultImageSize, DefaultImageSize, NumChannels))
	probs, err := net.Predict(img)
	require.NoError(t, err)
	var sum float64
	probs.ConstFlatData(func(flat []float32) {
		for _, p := range flat {
			sum += float64(p)
		}
	})
	assert.InDelta(t, 1.0, sum, 1e-5)
	predictions, err := DecodePredictions(probs, nil, DefaultTopK)
	require.NoError(t, err)
	require.Len(t, predictions[0], DefaultTopK)
	for ii, p := range predictions[0] {
		t.Logf("#%d: class %d, score %.4f", ii+1, p.Index, p.Score)
	}
}
