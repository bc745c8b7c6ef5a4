// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package resnet50

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/gomlx/resnet50/pkg/core/tensors"
	"github.com/pkg/errors"
)

// DefaultTopK is the default number of predictions returned by DecodePredictions.
const DefaultTopK = 5

// Prediction of one class for one image.
type Prediction struct {
	// Index of the class in the output of the network.
	Index int
	ClassLabel
	Score float32
}

// DecodePredictions returns the top k predictions for each image of a batch of probabilities shaped
// `[batch, numClasses]`, sorted by decreasing score. Ties are broken by the lower class index.
//
// If labels is nil, the predictions IDs are the class index and labels are empty. Otherwise, labels must have
// one entry per class. If k <= 0, DefaultTopK is used.
func DecodePredictions(probs *tensors.Tensor, labels Labels, k int) ([][]Prediction, error) {
	if probs == nil || probs.Rank() != 2 {
		return nil, errors.Errorf("DecodePredictions: probabilities must be shaped [batch, numClasses]")
	}
	batchSize, numClasses := probs.Shape().Dim(0), probs.Shape().Dim(1)
	if labels != nil && len(labels) != numClasses {
		return nil, errors.Errorf("DecodePredictions: %d labels given, but predictions have %d classes",
			len(labels), numClasses)
	}
	if k <= 0 {
		k = DefaultTopK
	}
	k = min(k, numClasses)
	results := make([][]Prediction, batchSize)
	probs.ConstFlatData(func(flat []float32) {
		order := make([]int, numClasses)
		for exampleIdx := range batchSize {
			row := flat[exampleIdx*numClasses : (exampleIdx+1)*numClasses]
			for ii := range order {
				order[ii] = ii
			}
			slices.SortStableFunc(order, func(a, b int) int {
				return cmp.Compare(row[b], row[a])
			})
			predictions := make([]Prediction, k)
			for ii, classIdx := range order[:k] {
				predictions[ii] = Prediction{Index: classIdx, Score: row[classIdx]}
				if labels != nil {
					predictions[ii].ClassLabel = labels[classIdx]
				} else {
					predictions[ii].ID = strconv.Itoa(classIdx)
				}
			}
			results[exampleIdx] = predictions
		}
	})
	return results, nil
}
