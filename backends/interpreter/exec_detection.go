// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"cmp"
	"slices"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/tensors"
)

func init() {
	registerNumeric(opsets.OpTypeDetectionOutput, execDetectionOutput)
}

func execDetectionOutput(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	detect, err := kernelFor[func(opset0.DetectionOutputAttrs, *tensors.Tensor, []*tensors.Tensor)](
		detectionOutputDTypeMap, node, outputs[0].DType())
	if err != nil {
		return err
	}
	detect(node.Attrs().(opset0.DetectionOutputAttrs), outputs[0], inputs)
	return nil
}

type bbox[T tensorFloat] struct {
	xmin, ymin, xmax, ymax T
}

func (b bbox[T]) size() T {
	if b.xmax < b.xmin || b.ymax < b.ymin {
		return 0
	}
	return (b.xmax - b.xmin) * (b.ymax - b.ymin)
}

func (b bbox[T]) clip() bbox[T] {
	clamp := func(v T) T { return min(max(v, 0), 1) }
	return bbox[T]{clamp(b.xmin), clamp(b.ymin), clamp(b.xmax), clamp(b.ymax)}
}

// jaccardOverlap is the intersection over union of a and b.
func jaccardOverlap[T tensorFloat](a, b bbox[T]) T {
	if b.xmin > a.xmax || b.xmax < a.xmin || b.ymin > a.ymax || b.ymax < a.ymin {
		return 0
	}
	intersection := bbox[T]{max(a.xmin, b.xmin), max(a.ymin, b.ymin), min(a.xmax, b.xmax), min(a.ymax, b.ymax)}.size()
	if intersection == 0 {
		return 0
	}
	return intersection / (a.size() + b.size() - intersection)
}

// detector holds the configuration of one DetectionOutput evaluation.
type detector[T tensorFloat] struct {
	attrs         opset0.DetectionOutputAttrs
	numImages     int
	numPriors     int
	numLocClasses int
}

// readBoxPredictions returns the box predictions indexed by [image][location class][prior].
func (d *detector[T]) readBoxPredictions(flat []T) [][][]bbox[T] {
	preds := make([][][]bbox[T], d.numImages)
	for image := range preds {
		preds[image] = make([][]bbox[T], d.numLocClasses)
		for c := range preds[image] {
			preds[image][c] = make([]bbox[T], d.numPriors)
			for p := range d.numPriors {
				start := ((image*d.numPriors+p)*d.numLocClasses + c) * 4
				preds[image][c][p] = bbox[T]{flat[start], flat[start+1], flat[start+2], flat[start+3]}
			}
		}
	}
	return preds
}

// readScores returns the class scores indexed by [image][class][prior]. If objectness is given, priors whose
// objectness is below the threshold only score for the background class.
func (d *detector[T]) readScores(conf, objectness []T) [][][]T {
	numClasses := d.attrs.NumClasses
	scores := make([][][]T, d.numImages)
	for image := range scores {
		scores[image] = make([][]T, numClasses)
		for c := range numClasses {
			scores[image][c] = make([]T, d.numPriors)
		}
		for p := range d.numPriors {
			objectless := objectness != nil && objectness[(image*d.numPriors+p)*2+1] < T(d.attrs.ObjectnessScore)
			for c := range numClasses {
				switch {
				case !objectless:
					scores[image][c][p] = conf[(image*d.numPriors+p)*numClasses+c]
				case c == d.attrs.BackgroundLabelID:
					scores[image][c][p] = 1
				}
			}
		}
	}
	return scores
}

// readPriors returns the prior boxes and their variances for the given batch entry of the proposals.
func (d *detector[T]) readPriors(proposals *tensors.Tensor, batch int) (priors []bbox[T], variances [][4]T) {
	priorSize := d.attrs.PriorBoxSize()
	offset := priorSize - 4
	rows := proposals.Shape().Dimensions[1]
	flat := tensors.Flat[T](proposals)[batch*rows*d.numPriors*priorSize:]
	priors = make([]bbox[T], d.numPriors)
	variances = make([][4]T, d.numPriors)
	for p := range d.numPriors {
		start := p*priorSize + offset
		priors[p] = bbox[T]{flat[start], flat[start+1], flat[start+2], flat[start+3]}
		if !d.attrs.VarianceEncodedInTarget {
			copy(variances[p][:], flat[d.numPriors*priorSize+p*4:])
		}
	}
	return priors, variances
}

// decode applies the box prediction pred to the prior. Unless normalized, the prior is first scaled down by
// the input size.
func (d *detector[T]) decode(prior bbox[T], variance [4]T, pred bbox[T], normalized bool) bbox[T] {
	if !normalized {
		width, height := T(d.attrs.InputWidth), T(d.attrs.InputHeight)
		prior = bbox[T]{prior.xmin / width, prior.ymin / height, prior.xmax / width, prior.ymax / height}
	}
	if d.attrs.VarianceEncodedInTarget {
		variance = [4]T{1, 1, 1, 1}
	}
	if d.attrs.CodeType == opset0.DetectionCodeCorner {
		return bbox[T]{
			prior.xmin + variance[0]*pred.xmin,
			prior.ymin + variance[1]*pred.ymin,
			prior.xmax + variance[2]*pred.xmax,
			prior.ymax + variance[3]*pred.ymax,
		}
	}
	priorWidth, priorHeight := prior.xmax-prior.xmin, prior.ymax-prior.ymin
	centerX := variance[0]*pred.xmin*priorWidth + (prior.xmin+prior.xmax)/2
	centerY := variance[1]*pred.ymin*priorHeight + (prior.ymin+prior.ymax)/2
	width := expT(variance[2]*pred.xmax) * priorWidth
	height := expT(variance[3]*pred.ymax) * priorHeight
	return bbox[T]{centerX - width/2, centerY - height/2, centerX + width/2, centerY + height/2}
}

// maxScoreIndices returns the priors scoring above the confidence threshold, by decreasing score, truncated to
// the top k.
func (d *detector[T]) maxScoreIndices(scores []T, topK int) []int {
	var indices []int
	for p, score := range scores {
		if score > T(d.attrs.ConfidenceThreshold) {
			indices = append(indices, p)
		}
	}
	slices.SortStableFunc(indices, func(a, b int) int { return cmp.Compare(scores[b], scores[a]) })
	if topK > -1 && topK < len(indices) {
		indices = indices[:topK]
	}
	return indices
}

// suppress keeps, in order, the candidates that don't overlap a kept one by more than the NMS threshold.
func (d *detector[T]) suppress(candidates []int, boxOf func(candidate int) bbox[T]) []int {
	var kept []int
	for _, candidate := range candidates {
		keep := true
		for _, k := range kept {
			if jaccardOverlap(boxOf(candidate), boxOf(k)) > T(d.attrs.NMSThreshold) {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func (d *detector[T]) locClass(class int) int {
	if d.attrs.ShareLocation {
		return 0
	}
	return class
}

// selectPerClass runs the suppression independently for each class but the background. It returns the
// selected priors indexed by class.
func (d *detector[T]) selectPerClass(boxes [][]bbox[T], scores [][]T) [][]int {
	indices := make([][]int, d.attrs.NumClasses)
	for c := range d.attrs.NumClasses {
		if c == d.attrs.BackgroundLabelID {
			continue
		}
		classBoxes := boxes[d.locClass(c)]
		indices[c] = d.suppress(d.maxScoreIndices(scores[c], d.attrs.TopK),
			func(p int) bbox[T] { return classBoxes[p] })
	}
	return indices
}

// selectBestClass runs one suppression over the best scoring class of each prior. It returns the selected
// priors indexed by class.
func (d *detector[T]) selectBestClass(boxes [][]bbox[T], scores [][]T) [][]int {
	bestClass := make([]int, d.numPriors)
	bestScores := make([]T, d.numPriors)
	for p := range d.numPriors {
		bestClass[p] = -1
		for c := range d.attrs.NumClasses {
			if c != d.attrs.BackgroundLabelID && (bestClass[p] == -1 || scores[c][p] > bestScores[p]) {
				bestClass[p], bestScores[p] = c, scores[c][p]
			}
		}
	}
	candidates := d.maxScoreIndices(bestScores, d.attrs.TopK)
	candidates = slices.DeleteFunc(candidates, func(p int) bool { return bestClass[p] == -1 })
	kept := d.suppress(candidates, func(p int) bbox[T] { return boxes[d.locClass(bestClass[p])][p] })
	indices := make([][]int, d.attrs.NumClasses)
	for _, p := range kept {
		indices[bestClass[p]] = append(indices[bestClass[p]], p)
	}
	return indices
}

// keepTopK keeps the keepTopK best scoring selections across all classes.
func (d *detector[T]) keepTopK(indices [][]int, scores [][]T) [][]int {
	keep := d.attrs.KeepTopK[0]
	type selection struct{ class, prior int }
	var all []selection
	for c, priors := range indices {
		for _, p := range priors {
			all = append(all, selection{c, p})
		}
	}
	if keep < 0 || len(all) <= keep {
		return indices
	}
	slices.SortStableFunc(all, func(a, b selection) int {
		return cmp.Compare(scores[b.class][b.prior], scores[a.class][a.prior])
	})
	kept := make([][]int, len(indices))
	for _, s := range all[:keep] {
		kept[s.class] = append(kept[s.class], s.prior)
	}
	return kept
}

// detectionOutputGeneric writes the rows [image_id, label, score, xmin, ymin, xmax, ymax] of the detections,
// image by image and by increasing class, followed by a row with image_id -1 if there is room left.
func detectionOutputGeneric[T tensorFloat](attrs opset0.DetectionOutputAttrs, output *tensors.Tensor,
	inputs []*tensors.Tensor) {
	proposals := inputs[2]
	d := &detector[T]{
		attrs:         attrs,
		numImages:     inputs[0].Shape().Dimensions[0],
		numPriors:     proposals.Shape().Dimensions[2] / attrs.PriorBoxSize(),
		numLocClasses: attrs.NumLocClasses(),
	}
	preds := d.readBoxPredictions(tensors.Flat[T](inputs[0]))
	var auxPreds [][][]bbox[T]
	var objectness []T
	if len(inputs) == 5 {
		objectness = tensors.Flat[T](inputs[3])
		auxPreds = d.readBoxPredictions(tensors.Flat[T](inputs[4]))
	}
	scores := d.readScores(tensors.Flat[T](inputs[1]), objectness)

	out := tensors.Flat[T](output)
	clear(out)
	numResults := output.Shape().Dimensions[2]
	count := 0
	for image := range d.numImages {
		priorsBatch := 0
		if proposals.Shape().Dimensions[0] > 1 {
			priorsBatch = image
		}
		priors, variances := d.readPriors(proposals, priorsBatch)
		boxes := make([][]bbox[T], d.numLocClasses)
		for c := range boxes {
			boxes[c] = make([]bbox[T], d.numPriors)
			for p, prior := range priors {
				normalized := attrs.Normalized
				if auxPreds != nil {
					prior = d.decode(prior, variances[p], auxPreds[image][c][p], normalized)
					normalized = true
				}
				boxes[c][p] = d.decode(prior, variances[p], preds[image][c][p], normalized)
				if attrs.ClipBeforeNMS {
					boxes[c][p] = boxes[c][p].clip()
				}
			}
		}

		var indices [][]int
		if attrs.DecreaseLabelID {
			indices = d.selectBestClass(boxes, scores[image])
		} else {
			indices = d.selectPerClass(boxes, scores[image])
		}
		for c, selected := range d.keepTopK(indices, scores[image]) {
			for _, p := range selected {
				if count >= numResults {
					return
				}
				box := boxes[d.locClass(c)][p]
				if attrs.ClipAfterNMS {
					box = box.clip()
				}
				label := c
				if attrs.DecreaseLabelID {
					label--
				}
				copy(out[count*7:], []T{T(image), T(label), scores[image][c][p], box.xmin, box.ymin, box.xmax, box.ymax})
				count++
			}
		}
	}
	if count < numResults {
		out[count*7] = -1
	}
}
