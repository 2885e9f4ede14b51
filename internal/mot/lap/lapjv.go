package lap

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNonFinite is returned when the cost matrix or cost limit holds NaN
	// or -Inf. +Inf entries are allowed and mean "never match".
	ErrNonFinite = errors.New("lap: non-finite cost")
	// ErrInfeasible is returned when no complete assignment of the padded
	// matrix exists. It indicates a corrupted cost matrix.
	ErrInfeasible = errors.New("lap: no feasible assignment")
	// ErrShape is returned when the matrix does not match the given size.
	ErrShape = errors.New("lap: cost matrix shape mismatch")
)

// Match pairs a row (track) index with a column (detection) index.
type Match struct {
	Row int
	Col int
}

// Solve finds the minimum-cost assignment between nRows rows and nCols
// columns. Pairs whose cost is not below costLimit stay unmatched.
//
// The matrix is padded to (nRows+nCols) square: real rows against padding
// columns and padding rows against real columns cost costLimit/2, padding
// against padding costs 0. Leaving a row and a column unmatched therefore
// costs costLimit in total, so only cheaper real pairs are ever chosen.
// Anything assigned into the padding region is reported as unmatched.
//
// An empty matrix short-circuits to everything unmatched.
func Solve(cost [][]float64, nRows, nCols int, costLimit float64) (matches []Match, unmatchedRows, unmatchedCols []int, err error) {
	if nRows == 0 || nCols == 0 || len(cost) == 0 {
		return nil, seq(nRows), seq(nCols), nil
	}
	if len(cost) != nRows {
		return nil, nil, nil, fmt.Errorf("%w: %d rows, want %d", ErrShape, len(cost), nRows)
	}
	if math.IsNaN(costLimit) || math.IsInf(costLimit, 0) {
		return nil, nil, nil, fmt.Errorf("%w: cost limit %v", ErrNonFinite, costLimit)
	}
	for i, row := range cost {
		if len(row) != nCols {
			return nil, nil, nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), nCols)
		}
		for j, c := range row {
			if math.IsNaN(c) || math.IsInf(c, -1) {
				return nil, nil, nil, fmt.Errorf("%w: cost[%d][%d] = %v", ErrNonFinite, i, j, c)
			}
		}
	}

	n := nRows + nCols
	half := costLimit / 2
	padded := make([][]float64, n)
	for i := 0; i < n; i++ {
		padded[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			switch {
			case i < nRows && j < nCols:
				padded[i][j] = cost[i][j]
			case i >= nRows && j >= nCols:
				padded[i][j] = 0
			default:
				padded[i][j] = half
			}
		}
	}

	rowAssign, err := solveSquare(padded)
	if err != nil {
		return nil, nil, nil, err
	}

	colTaken := make([]bool, nCols)
	for i := 0; i < nRows; i++ {
		j := rowAssign[i]
		if j >= 0 && j < nCols && cost[i][j] < costLimit {
			matches = append(matches, Match{Row: i, Col: j})
			colTaken[j] = true
			continue
		}
		unmatchedRows = append(unmatchedRows, i)
	}
	for j, taken := range colTaken {
		if !taken {
			unmatchedCols = append(unmatchedCols, j)
		}
	}
	return matches, unmatchedRows, unmatchedCols, nil
}

// solveSquare is the shortest augmenting path form of Jonker-Volgenant with
// row and column potentials. It returns assignment[row] = col.
func solveSquare(c [][]float64) ([]int, error) {
	dim := len(c)
	inf := math.Inf(1)

	// 1-indexed internally; column 0 is the virtual source.
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)   // p[j] = row assigned to column j
	way := make([]int, dim+1) // way[j] = previous column on the augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 || math.IsInf(delta, 0) || math.IsNaN(delta) {
				return nil, fmt.Errorf("%w: row %d cannot be augmented", ErrInfeasible, i-1)
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	assignment := make([]int, dim)
	for i := range assignment {
		assignment[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 {
			assignment[p[j]-1] = j - 1
		}
	}
	return assignment, nil
}

func seq(n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
