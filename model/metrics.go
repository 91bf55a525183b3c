package model

import (
	"fmt"
	"slices"
)

// ClassMetrics is one row of a classification report
type ClassMetrics struct {
	Class     string  `yaml:"class" json:"class"`
	Precision float64 `yaml:"precision" json:"precision"`
	Recall    float64 `yaml:"recall" json:"recall"`
	F1        float64 `yaml:"f1" json:"f1"`
	Support   int     `yaml:"support" json:"support"`
}

// Evaluation summarizes predictions against ground truth
type Evaluation struct {
	Accuracy float64        `yaml:"accuracy" json:"accuracy"`
	PerClass []ClassMetrics `yaml:"per_class" json:"per_class"`
	// MacroF1 is the unweighted mean F1 over classes
	MacroF1 float64 `yaml:"macro_f1" json:"macro_f1"`
	// Confusion[i][j] counts true class i predicted as class j, in Classes order
	Classes   []string `yaml:"classes" json:"classes"`
	Confusion [][]int  `yaml:"confusion" json:"confusion"`
}

// Evaluate builds the classification report. Classes seen only in truth
// or predictions are added to the class list.
func Evaluate(classes, truth, predicted []string) (*Evaluation, error) {
	if len(truth) != len(predicted) {
		return nil, fmt.Errorf("evaluate: %d truths but %d predictions", len(truth), len(predicted))
	}

	all := slices.Clone(classes)
	all = append(all, truth...)
	all = append(all, predicted...)
	all = slices.Compact(slices.Sorted(slices.Values(all)))

	index := make(map[string]int, len(all))
	for i, c := range all {
		index[c] = i
	}

	confusion := make([][]int, len(all))
	for i := range confusion {
		confusion[i] = make([]int, len(all))
	}

	correct := 0
	for i := range truth {
		confusion[index[truth[i]]][index[predicted[i]]]++
		if truth[i] == predicted[i] {
			correct++
		}
	}

	eval := &Evaluation{Classes: all, Confusion: confusion}
	if len(truth) > 0 {
		eval.Accuracy = float64(correct) / float64(len(truth))
	}

	for i, c := range all {
		tp := confusion[i][i]
		support, predictedAs := 0, 0
		for j := range all {
			support += confusion[i][j]
			predictedAs += confusion[j][i]
		}

		m := ClassMetrics{Class: c, Support: support}
		if predictedAs > 0 {
			m.Precision = float64(tp) / float64(predictedAs)
		}
		if support > 0 {
			m.Recall = float64(tp) / float64(support)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		eval.PerClass = append(eval.PerClass, m)
		eval.MacroF1 += m.F1
	}
	if len(all) > 0 {
		eval.MacroF1 /= float64(len(all))
	}

	return eval, nil
}
