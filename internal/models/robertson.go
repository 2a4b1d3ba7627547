package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/linalg"
)

// Robertson is the stiff three-species autocatalytic benchmark. With DAE
// set, the last equation is replaced by the conservation constraint
// y1+y2+y3 = 1 and the model declares a singular mass matrix.
type Robertson struct {
	K1, K2, K3 float64
	DAE        bool
}

func NewRobertson() *Robertson {
	return &Robertson{K1: 0.04, K2: 3e7, K3: 1e4}
}

func NewRobertsonDAE() *Robertson {
	r := NewRobertson()
	r.DAE = true
	return r
}

func (r *Robertson) Dims() dynamo.Dims { return dynamo.Dims{NX: 3, NP: 3} }

func (r *Robertson) NominalParameters() []float64 { return []float64{r.K1, r.K2, r.K3} }

func (r *Robertson) InitialState(p []float64) dynamo.State {
	return dynamo.State{1, 0, 0}
}

func (r *Robertson) MassMatrix() []float64 {
	if !r.DAE {
		return nil
	}
	return []float64{1, 1, 0}
}

func (r *Robertson) RHS(t float64, x, p, xdot []float64) error {
	y1, y2, y3 := x[0], x[1], x[2]
	xdot[0] = -p[0]*y1 + p[2]*y2*y3
	xdot[1] = p[0]*y1 - p[2]*y2*y3 - p[1]*y2*y2
	if r.DAE {
		xdot[2] = y1 + y2 + y3 - 1
	} else {
		xdot[2] = p[1] * y2 * y2
	}
	return nil
}

func (r *Robertson) Jacobian(t float64, x, p []float64, J linalg.Matrix) error {
	y2, y3 := x[1], x[2]
	J.Set(0, 0, -p[0])
	J.Set(0, 1, p[2]*y3)
	J.Set(0, 2, p[2]*y2)
	J.Set(1, 0, p[0])
	J.Set(1, 1, -p[2]*y3-2*p[1]*y2)
	J.Set(1, 2, -p[2]*y2)
	if r.DAE {
		J.Set(2, 0, 1)
		J.Set(2, 1, 1)
		J.Set(2, 2, 1)
	} else {
		J.Set(2, 1, 2*p[1]*y2)
	}
	return nil
}

func (r *Robertson) ParameterJacobian(t float64, x, p []float64, dfdp *mat.Dense) error {
	y1, y2, y3 := x[0], x[1], x[2]
	dfdp.Set(0, 0, -y1)
	dfdp.Set(0, 2, y2*y3)
	dfdp.Set(1, 0, y1)
	dfdp.Set(1, 1, -y2*y2)
	dfdp.Set(1, 2, -y2*y3)
	if !r.DAE {
		dfdp.Set(2, 1, y2*y2)
	}
	return nil
}

func (r *Robertson) Info() dynamo.Info {
	name := "robertson"
	if r.DAE {
		name = "robertson-dae"
	}
	return dynamo.Info{Name: name, States: []string{"y1", "y2", "y3"}, Parameters: []string{"k1", "k2", "k3"}}
}
