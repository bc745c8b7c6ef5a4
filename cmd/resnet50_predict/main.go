// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// resnet50_predict classifies images with ResNet50, using the Keras pretrained ImageNet weights.
//
// The weights and labels are downloaded to -data on first use, and the Keras ".h5" file is unpacked to a
// directory of ".npy" files, which requires the `h5dump` tool (from the HDF5 tools, e.g. `apt install hdf5-tools`).
//
// Usage:
//
//	go run ./cmd/resnet50_predict -img=cat.jpg,dog.png
//	go run ./cmd/resnet50_predict -img=cat.jpg -top=10
//	go run ./cmd/resnet50_predict -img=cat.jpg -set="include_top=false;pooling=avg"
//	go run ./cmd/resnet50_predict -img=cat.jpg -weights=~/models/resnet50.safetensors
//	go run ./cmd/resnet50_predict -img=cat.jpg -download=false  # Deterministic initial weights, no labels.
package main

import (
	"flag"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/resnet50/models/resnet50"
	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/gomlx/resnet50/pkg/core/tensors/images"
	"github.com/gomlx/resnet50/pkg/ml/context"
	"github.com/gomlx/resnet50/pkg/ml/weights"
	"github.com/gomlx/resnet50/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/klauspost/cpuid/v2"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagDataDir  = flag.String("data", "~/work/resnet50", "Directory to cache the downloaded weights and labels.")
	flagImages   = flag.String("img", "", "Comma-separated list of images to classify.")
	flagDownload = flag.Bool("download", true, "Download the pretrained weights and labels, if not cached yet. "+
		"If false, the network uses deterministic initial weights, which is only useful for testing.")
	flagWeights = flag.String("weights", "", "Pretrained weights to use instead of the downloaded ones: a directory "+
		"of \".npy\" files, a \".safetensors\" file or a Keras \".h5\" file.")
	flagTop     = flag.Int("top", 0, "Number of predictions to show per image. If 0, it uses the top_k hyperparameter.")
	flagSummary = flag.Bool("summary", false, "Print the summary of the network layers.")
	flagNoColor = flag.Bool("no_color", false, "Disable colors in the output.")
)

func main() {
	ctx := context.New()
	resnet50.SetDefaultParams(ctx)
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	if len(paramsSet) > 0 {
		fmt.Printf("Settings:\n%s\n", commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}
	if *flagImages == "" {
		klog.Exitf("Please set the images to classify with -img.")
	}
	klog.V(1).Infof("CPU: %s, %d cores, AVX2=%v, FMA3=%v", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores,
		cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.FMA3))

	cfg := must.M1(resnet50.FromContext(ctx))
	includeTop := context.GetParamOr(ctx, resnet50.ParamIncludeTop, true)
	var labels resnet50.Labels
	switch {
	case *flagWeights != "":
		cfg.PreTrained(must.M1(weights.Open(*flagWeights)))
	case *flagDownload:
		cfg.PreTrained(must.M1(resnet50.DownloadWeights(*flagDataDir, includeTop)))
	}
	if *flagDownload && includeTop {
		labels = must.M1(resnet50.DownloadLabels(*flagDataDir))
	}
	start := time.Now()
	net := must.M1(cfg.Done())
	numParams := net.NumParameters()
	fmt.Printf("ResNet50: %s parameters (%s), built in %s\n", humanize.Comma(int64(numParams)),
		humanize.IBytes(uint64(4*numParams)), commandline.FormatDuration(time.Since(start)))
	if *flagSummary {
		fmt.Println(commandline.SummaryTable(net.Summary()))
	}

	topK := context.GetParamOr(ctx, resnet50.ParamTopK, resnet50.DefaultTopK)
	if *flagTop > 0 {
		topK = *flagTop
	}
	imagePaths := strings.Split(*flagImages, ",")
	names := make([]string, len(imagePaths))
	imgs := make([]image.Image, len(imagePaths))
	var pBar *commandline.ProgressBar
	if len(imagePaths) > 1 {
		pBar = commandline.NewProgressBar(len(imagePaths), "Loading")
	}
	for ii, imagePath := range imagePaths {
		imagePath = strings.TrimSpace(imagePath)
		names[ii] = filepath.Base(imagePath)
		imgs[ii] = must.M1(images.Load(imagePath))
		if pBar != nil {
			bounds := imgs[ii].Bounds()
			pBar.Add([2]string{"Image", names[ii]}, [2]string{"Size", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy())})
		}
	}
	if pBar != nil {
		pBar.Done()
	}

	// All images are classified in one batch.
	imageSize := net.InputShape().Dim(1)
	start = time.Now()
	output := must.M1(net.Predict(resnet50.PreprocessImages(imgs, imageSize)))
	klog.V(1).Infof("Classified %d images in %s", len(imgs), commandline.FormatDuration(time.Since(start)))
	if net.IncludeTop() {
		predictions := must.M1(resnet50.DecodePredictions(output, labels, topK))
		for ii, name := range names {
			fmt.Println(commandline.PredictionsTable(name, predictions[ii]))
		}
		return
	}
	for ii, name := range names {
		fmt.Println(featuresReport(name, output, ii))
	}
}

// featuresReport describes the features output by a headless network for the example in the batch.
func featuresReport(name string, features *tensors.Tensor, example int) string {
	exampleSize := features.Size() / features.Shape().Dim(0)
	var sum, maxValue float32
	features.ConstFlatData(func(flat []float32) {
		for _, v := range flat[example*exampleSize : (example+1)*exampleSize] {
			sum += v
			maxValue = max(maxValue, v)
		}
	})
	return fmt.Sprintf("%s: features %v, mean=%.4f, max=%.4f", name, features.Shape().Dimensions[1:],
		sum/float32(exampleSize), maxValue)
}
