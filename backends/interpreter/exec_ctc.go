// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"math"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset4"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/pkg/errors"
)

func init() {
	registerNumeric(opsets.OpTypeCTCLossV4, execCTCLoss)
}

// ctcProblem holds the type-independent inputs of CTCLoss.
type ctcProblem struct {
	batch, maxTime, classes int
	logitLength             []int64
	labels                  []int64
	labelLength             []int64
	blank                   int
	attrs                   opset4.CTCLossAttrs
}

func execCTCLoss(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	dims := inputs[0].Shape().Dimensions
	p := ctcProblem{batch: dims[0], maxTime: dims[1], classes: dims[2], blank: dims[2] - 1,
		attrs: node.Attrs().(opset4.CTCLossAttrs)}
	var err error
	if p.logitLength, err = interp.readIndices(node, inputs[1], "logit length"); err != nil {
		return err
	}
	if p.labels, err = interp.readIndices(node, inputs[2], "labels"); err != nil {
		return err
	}
	if p.labelLength, err = interp.readIndices(node, inputs[3], "label length"); err != nil {
		return err
	}
	if len(inputs) > 4 {
		blank, err := interp.readIndices(node, inputs[4], "blank index")
		if err != nil {
			return err
		}
		p.blank = int(blank[0])
	}
	if p.blank < 0 || p.blank >= p.classes {
		return errors.Errorf("CTCLoss blank index %d out-of-bounds for %d classes", p.blank, p.classes)
	}
	for n := range p.batch {
		if p.logitLength[n] < 0 || p.logitLength[n] > int64(p.maxTime) ||
			p.labelLength[n] < 0 || p.labelLength[n] > int64(p.maxTime) {
			return errors.Errorf("CTCLoss lengths (logit %d, label %d) of batch %d must be in [0, %d]",
				p.logitLength[n], p.labelLength[n], n, p.maxTime)
		}
		for _, label := range p.labels[n*p.maxTime : n*p.maxTime+int(p.labelLength[n])] {
			if label < 0 || label >= int64(p.classes) {
				return errors.Errorf("CTCLoss label %d of batch %d out-of-bounds for %d classes", label, n, p.classes)
			}
		}
	}
	return floatKernel(node, outputs[0], inputs[0],
		func(out, in []float32) error { ctcLossGeneric(out, in, &p); return nil },
		func(out, in []float64) error { ctcLossGeneric(out, in, &p); return nil })
}

// targetSequence returns the labels of batch n after the preprocessing selected by the attributes.
func (p *ctcProblem) targetSequence(n int) []int {
	var target []int
	seen := sets.Make[int]()
	for ii, label := range p.labels[n*p.maxTime : n*p.maxTime+int(p.labelLength[n])] {
		l := int(label)
		if p.attrs.PreprocessCollapseRepeated && ii > 0 && len(target) > 0 && int(p.labels[n*p.maxTime+ii-1]) == l {
			continue
		}
		if p.attrs.Unique {
			if !seen.InsertNew(l) {
				continue
			}
		}
		target = append(target, l)
	}
	return target
}

func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// ctcLossGeneric runs the forward algorithm, in log space, over the extended target sequence (the labels
// interleaved with blanks). An unreachable target has an infinite loss.
func ctcLossGeneric[T dtypes.GoFloat](out, logits []T, p *ctcProblem) {
	logProbs := make([]float64, p.classes)
	for n := range p.batch {
		target := p.targetSequence(n)
		extended := make([]int, 2*len(target)+1)
		for ii := range extended {
			extended[ii] = p.blank
			if ii%2 == 1 {
				extended[ii] = target[ii/2]
			}
		}
		numTime := int(p.logitLength[n])
		if numTime == 0 {
			if len(target) == 0 {
				out[n] = 0
			} else {
				out[n] = T(math.Inf(1))
			}
			continue
		}
		alpha := make([]float64, len(extended))
		next := make([]float64, len(extended))
		for t := range numTime {
			row := logits[(n*p.maxTime+t)*p.classes : (n*p.maxTime+t+1)*p.classes]
			logSoftmax(row, logProbs)
			for s, class := range extended {
				if t == 0 {
					next[s] = math.Inf(-1)
					if s < 2 {
						next[s] = logProbs[class]
					}
					continue
				}
				isBlank := class == p.blank
				acc := math.Inf(-1)
				if isBlank || p.attrs.CTCMergeRepeated {
					acc = alpha[s]
				}
				if s >= 1 {
					acc = logSumExp(acc, alpha[s-1])
				}
				if s >= 2 && !isBlank && (extended[s-2] != class || !p.attrs.CTCMergeRepeated) {
					acc = logSumExp(acc, alpha[s-2])
				}
				next[s] = acc + logProbs[class]
			}
			alpha, next = next, alpha
		}
		logLikelihood := alpha[len(extended)-1]
		if len(extended) > 1 {
			logLikelihood = logSumExp(logLikelihood, alpha[len(extended)-2])
		}
		out[n] = T(-logLikelihood)
	}
}

// logSoftmax writes the log-softmax of the logits into logProbs.
func logSoftmax[T dtypes.GoFloat](logits []T, logProbs []float64) {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = max(maxLogit, float64(v))
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v) - maxLogit)
	}
	logSum := maxLogit + math.Log(sum)
	for ii, v := range logits {
		logProbs[ii] = float64(v) - logSum
	}
}
