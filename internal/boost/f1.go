package boost

import "github.com/pkg/errors"

// F1 returns the F1 score of class 1. It is 0 when there is neither a true
// nor a predicted positive.
func F1(yTrue, yPred []int) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, errors.Wrapf(ErrShape, "%d labels for %d predictions", len(yTrue), len(yPred))
	}

	var tp, fp, fn int

	for i, truth := range yTrue {
		switch {
		case truth == 1 && yPred[i] == 1:
			tp++
		case truth != 1 && yPred[i] == 1:
			fp++
		case truth == 1 && yPred[i] != 1:
			fn++
		}
	}

	if tp+fp+fn == 0 {
		return 0, nil
	}

	return float64(2*tp) / float64(2*tp+fp+fn), nil
}
