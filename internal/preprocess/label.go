package preprocess

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownLabel is returned for a label or code the encoder was not fitted on.
var ErrUnknownLabel = errors.New("unknown label")

// LabelEncoder maps each class to its rank among the sorted fitted classes.
type LabelEncoder struct {
	Classes []string
}

// FitLabelEncoder fits on labels. Missing labels are not allowed.
func FitLabelEncoder(labels []string) (*LabelEncoder, error) {
	classes := make([]string, 0)

	for i, label := range labels {
		if label == "" {
			return nil, errors.Errorf("missing label at row %d", i+1)
		}

		classes = append(classes, label)
	}

	if len(classes) == 0 {
		return nil, errors.New("cannot fit a label encoder without labels")
	}

	slices.Sort(classes)

	return &LabelEncoder{Classes: slices.Compact(classes)}, nil
}

// Transform returns the code of each label.
func (e *LabelEncoder) Transform(labels []string) ([]int, error) {
	codes := make([]int, len(labels))

	for i, label := range labels {
		code, ok := slices.BinarySearch(e.Classes, label)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownLabel, "%q at row %d, known: %s", label, i+1, strings.Join(e.Classes, ", "))
		}

		codes[i] = code
	}

	return codes, nil
}

// InverseTransform returns the class of each code.
func (e *LabelEncoder) InverseTransform(codes []int) ([]string, error) {
	labels := make([]string, len(codes))

	for i, code := range codes {
		if code < 0 || code >= len(e.Classes) {
			return nil, errors.Wrapf(ErrUnknownLabel, "code %d at row %d", code, i+1)
		}

		labels[i] = e.Classes[code]
	}

	return labels, nil
}
