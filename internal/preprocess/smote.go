package preprocess

import (
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SMOTE oversamples the least represented class up to the size of the most
// represented one with synthetic samples drawn between a minority sample and
// one of its K nearest minority neighbours.
type SMOTE struct {
	K    int
	Seed uint64
}

// Resample returns x and y with the synthetic rows appended. Inputs are not modified.
// When the minority class has fewer than two samples nothing is generated.
func (s SMOTE) Resample(x mat.Matrix, y []int) (*mat.Dense, []int, error) {
	rows, cols := x.Dims()
	if rows != len(y) {
		return nil, nil, errors.Wrapf(ErrShape, "%d rows for %d labels", rows, len(y))
	}

	if s.K < 1 {
		return nil, nil, errors.New("smote needs at least one neighbour")
	}

	counts := make(map[int]int)
	for _, label := range y {
		counts[label]++
	}

	minority, majority := extremeClasses(counts)

	missing := counts[majority] - counts[minority]
	members := minorityRows(x, y, minority)

	if missing == 0 || len(members) < 2 {
		return mat.DenseCopyOf(x), slices.Clone(y), nil
	}

	neighbours := nearestNeighbours(members, min(s.K, len(members)-1))
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15)) //nolint:gosec

	out := mat.NewDense(rows+missing, cols, nil)
	out.Slice(0, rows, 0, cols).(*mat.Dense).Copy(x)

	labels := slices.Grow(slices.Clone(y), missing)
	synthetic := make([]float64, cols)

	for i := range missing {
		base := rng.IntN(len(members))
		neighbour := members[neighbours[base][rng.IntN(len(neighbours[base]))]]

		// synthetic = base + gap * (neighbour - base)
		floats.SubTo(synthetic, neighbour, members[base])
		floats.Scale(rng.Float64(), synthetic)
		floats.Add(synthetic, members[base])

		out.SetRow(rows+i, synthetic)
		labels = append(labels, minority)
	}

	return out, labels, nil
}

// extremeClasses returns the smallest and largest classes, ties broken by the lowest label.
func extremeClasses(counts map[int]int) (int, int) {
	labels := make([]int, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}

	slices.Sort(labels)

	minority, majority := labels[0], labels[0]

	for _, label := range labels[1:] {
		if counts[label] < counts[minority] {
			minority = label
		}

		if counts[label] > counts[majority] {
			majority = label
		}
	}

	return minority, majority
}

func minorityRows(x mat.Matrix, y []int, minority int) [][]float64 {
	_, cols := x.Dims()
	members := make([][]float64, 0)

	for i, label := range y {
		if label != minority {
			continue
		}

		row := make([]float64, cols)
		mat.Row(row, i, x)
		members = append(members, row)
	}

	return members
}

// nearestNeighbours returns, for every row, the indexes of its k closest other rows.
func nearestNeighbours(rows [][]float64, k int) [][]int {
	type candidate struct {
		index    int
		distance float64
	}

	out := make([][]int, len(rows))
	candidates := make([]candidate, 0, len(rows)-1)

	for i, row := range rows {
		candidates = candidates[:0]

		for j, other := range rows {
			if i != j {
				candidates = append(candidates, candidate{index: j, distance: floats.Distance(row, other, 2)})
			}
		}

		slices.SortStableFunc(candidates, func(a, b candidate) int {
			switch {
			case a.distance < b.distance:
				return -1
			case a.distance > b.distance:
				return 1
			default:
				return 0
			}
		})

		out[i] = make([]int, k)
		for n := range k {
			out[i][n] = candidates[n].index
		}
	}

	return out
}
