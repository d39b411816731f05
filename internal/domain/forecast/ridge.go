package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

// Ridge is an L2-regularised linear model over standardised features.
type Ridge struct {
	Means     []float64 `json:"means"`
	Scales    []float64 `json:"scales"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func fitRidge(x [][]float64, y []float64, lambda float64) (*Ridge, error) {
	n, p := len(x), len(x[0])
	r := &Ridge{Means: make([]float64, p), Scales: make([]float64, p)}
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		r.Means[j], r.Scales[j] = stats.MeanStdDev(col)
		if r.Scales[j] == 0 {
			r.Scales[j] = 1
		}
	}

	design := mat.NewDense(n, p, nil)
	for i, row := range x {
		for j, v := range row {
			design.Set(i, j, (v-r.Means[j])/r.Scales[j])
		}
	}
	r.Intercept = stats.Mean(y)
	centred := mat.NewVecDense(n, nil)
	for i, v := range y {
		centred.SetVec(i, v-r.Intercept)
	}

	var gram mat.Dense
	gram.Mul(design.T(), design)
	for j := 0; j < p; j++ {
		gram.Set(j, j, gram.At(j, j)+lambda)
	}
	var rhs mat.VecDense
	rhs.MulVec(design.T(), centred)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &rhs); err != nil {
		return nil, fmt.Errorf("%w: ridge solve: %v", model.ErrComputation, err)
	}
	r.Coef = make([]float64, p)
	for j := range r.Coef {
		r.Coef[j] = beta.AtVec(j)
	}
	return r, nil
}

func (r *Ridge) Predict(row []float64) float64 {
	out := r.Intercept
	for j, v := range row {
		out += r.Coef[j] * (v - r.Means[j]) / r.Scales[j]
	}
	return out
}
