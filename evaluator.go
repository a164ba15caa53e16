package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Evaluation for probe heads: validation loss during training, and the final
// test pass that produces the (loss, accuracy, macro-F1) triple recorded for
// each layer.
//
// Macro averaging treats every label equally regardless of frequency, which
// is the point: probing label sets are skewed, and a probe that only ever
// predicts the majority class should score near zero, not near the majority
// share. Classes the vocabulary knows but the test set never realizes still
// divide the macro average; their per-class recall is zero by the 0/0 = 0
// convention, so growing the vocabulary without evidence costs score.
//
// ===========================================================================

// evalLoss computes the mean loss over a dataset, forward passes only, in
// stable order. The result is the mean of per-batch mean losses, so a short
// final batch weighs the same as a full one.
func evalLoss(model *ProbeModel, data *AlignedDataset, batchSize int, loss LossFunc) float64 {
	batches := data.Batches(batchSize, nil)

	total := 0.0
	for _, batch := range batches {
		total += loss.Value(model.Forward(&batch), batch.Targets)
	}
	return total / float64(len(batches))
}

// classCounts accumulates per-class prediction tallies across a test pass.
type classCounts struct {
	predicted []float64 // times class c was predicted
	actual    []float64 // times class c was the gold label
	correct   []float64 // times class c was predicted and gold
}

func newClassCounts(numLabels int) *classCounts {
	return &classCounts{
		predicted: make([]float64, numLabels),
		actual:    make([]float64, numLabels),
		correct:   make([]float64, numLabels),
	}
}

// observe tallies one sample.
func (c *classCounts) observe(pred, gold int) {
	c.predicted[pred]++
	c.actual[gold]++
	if pred == gold {
		c.correct[gold]++
	}
}

// macroPR returns macro-averaged precision and recall: the per-class ratios
// averaged over ALL classes in the vocabulary. A class never predicted
// contributes zero precision; a class never realized contributes zero
// recall.
func (c *classCounts) macroPR() (precision, recall float64) {
	for class := range c.predicted {
		if c.predicted[class] > 0 {
			precision += c.correct[class] / c.predicted[class]
		}
		if c.actual[class] > 0 {
			recall += c.correct[class] / c.actual[class]
		}
	}
	n := float64(len(c.predicted))
	return precision / n, recall / n
}

// macroF1 is the harmonic mean of macro precision and recall, with the
// 0/0 = 0 convention when both are zero.
func macroF1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// testProbe runs the final test pass for one layer's trained probe: mean
// loss, accuracy, and macro-F1 over the test set in stable order.
//
// Predictions and gold labels are both argmax over their rows, which works
// for one-hot single-span targets and picks the canonical label for
// multi-label two-span rows. Accuracy is the mean of per-batch correct
// fractions, matching how the loss is averaged.
func testProbe(model *ProbeModel, data *AlignedDataset, batchSize int, loss LossFunc) LayerResult {
	batches := data.Batches(batchSize, nil)
	counts := newClassCounts(data.NumLabels)

	totalLoss, totalAcc := 0.0, 0.0
	for _, batch := range batches {
		logits := model.Forward(&batch)
		totalLoss += loss.Value(logits, batch.Targets)

		batchCorrect := 0
		for b := 0; b < batch.Size(); b++ {
			pred := argmaxRow(logits.Row(b))
			gold := argmaxRow(batch.Targets.Row(b))
			counts.observe(pred, gold)
			if pred == gold {
				batchCorrect++
			}
		}
		totalAcc += float64(batchCorrect) / float64(batch.Size())
	}

	nb := float64(len(batches))
	precision, recall := counts.macroPR()

	return LayerResult{
		Loss:     totalLoss / nb,
		Accuracy: totalAcc / nb,
		F1:       macroF1(precision, recall),
	}
}
