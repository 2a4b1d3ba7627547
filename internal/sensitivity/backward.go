package sensitivity

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/events"
	"github.com/san-kum/rxsim/internal/integrators"
	"github.com/san-kum/rxsim/internal/linalg"
)

// DataTerm is ∂l/∂x of the objective at output Index.
type DataTerm struct {
	Index int
	Time  float64
	DLDX  []float64
}

// Backward integrates the adjoint system
//
//	dλ/dτ = Jᵀλ,  dq/dτ = (∂f/∂p)ᵀλ,  τ = t_end − t
//
// across the checkpoint segments of a forward run, last segment first.
type Backward struct {
	Model    dynamo.Model
	P        []float64 // linear scale
	Sel      linalg.Selection
	Method   dynamo.Method
	Opt      integrators.Options
	Replayer Replayer
}

type AdjointResult struct {
	// Gradient is q(t0) + sx0ᵀλ(t0) with respect to linear parameters.
	Gradient []float64
	Lambda0  []float64
	Steps    int
	Stats    integrators.Stats
	Session  integrators.SessionStats
}

type backwardItem struct {
	time  float64
	index int
	event bool
	epoch int // events only: trace position
	data  []float64
	jump  *events.Jump
}

func (b *Backward) Run(ctx context.Context, cps []Checkpoint, data []DataTerm, sx0 *mat.Dense) (*AdjointResult, error) {
	if len(cps) == 0 {
		return nil, fmt.Errorf("%w: adjoint pass without checkpoints", dynamo.ErrInvalidConfig)
	}
	d := b.Model.Dims()
	n, np := d.NX, d.NP
	byIndex := make(map[int]DataTerm, len(data))
	for _, dt := range data {
		byIndex[dt.Index] = dt
	}

	prob := newAdjointProblem(b.Model, b.P, b.Sel)
	var stepper integrators.Stepper
	if b.Method == dynamo.MethodRK45 {
		stepper = integrators.NewRK45()
	} else {
		stepper = integrators.NewRosenbrock(b.Sel.Transposed())
	}
	sess := integrators.NewSession(prob, stepper, b.Opt)

	y := make([]float64, n+np)
	res := &AdjointResult{}

	for k := len(cps) - 1; k >= 0; k-- {
		stop := -1
		if k+1 < len(cps) {
			stop = cps[k+1].Step()
		}
		tr, err := b.Replayer.Replay(ctx, cps[k], stop)
		if err != nil {
			return nil, fmt.Errorf("replay of segment %d: %w", k, err)
		}

		var items []backwardItem
		for _, o := range tr.Outputs {
			if dt, ok := byIndex[o.Index]; ok {
				items = append(items, backwardItem{time: o.Time, index: o.Index, data: dt.DLDX})
			}
		}
		for pos, e := range tr.Events {
			if e.Jump == nil {
				return nil, fmt.Errorf("sensitivity: event %d replayed without its jump", e.Index)
			}
			items = append(items, backwardItem{time: e.Time, index: e.Index, event: true, epoch: pos, jump: e.Jump})
		}
		// Latest first; at equal times the data jump precedes the events,
		// which are undone in reverse order.
		sort.SliceStable(items, func(i, j int) bool {
			a, c := items[i], items[j]
			if a.time != c.time {
				return a.time > c.time
			}
			if a.event != c.event {
				return !a.event
			}
			return a.index > c.index
		})

		cur := tr.End
		epoch := len(tr.Events)
		for _, it := range items {
			if err := b.integrate(ctx, sess, prob, tr, epoch, cur, it.time, y); err != nil {
				return nil, err
			}
			cur = it.time
			if it.event {
				it.jump.Adjoint(y[:n], y[n:])
				epoch = it.epoch
				continue
			}
			for i, v := range it.data {
				y[i] += v
			}
		}
		if err := b.integrate(ctx, sess, prob, tr, epoch, cur, tr.Start, y); err != nil {
			return nil, err
		}
	}

	// Outputs at t0 were recorded before the first checkpoint.
	for idx, dt := range byIndex {
		if idx < cps[0].Output {
			for i, v := range dt.DLDX {
				y[i] += v
			}
		}
	}

	res.Lambda0 = append([]float64(nil), y[:n]...)
	res.Gradient = make([]float64, np)
	copy(res.Gradient, y[n:])
	if sx0 != nil {
		g := mat.NewVecDense(np, res.Gradient)
		var s mat.VecDense
		s.MulVec(sx0.T(), mat.NewVecDense(n, res.Lambda0))
		g.AddVec(g, &s)
	}
	res.Steps = sess.Steps
	res.Stats = stepper.Stats()
	res.Session = sess.Stats()
	return res, nil
}

// integrate carries y from tHi back to tLo inside one event epoch.
func (b *Backward) integrate(ctx context.Context, sess *integrators.Session, prob *adjointProblem, tr *Trace, epoch int, tHi, tLo float64, y []float64) error {
	if tHi <= tLo {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", dynamo.ErrCanceled, err)
	}
	prob.window = prob.window[:0]
	for _, s := range tr.Segments {
		if s.Epoch == epoch && s.Hi > s.Lo {
			prob.window = append(prob.window, s)
		}
	}
	if len(prob.window) == 0 {
		return fmt.Errorf("sensitivity: no forward trajectory covers [%g, %g]", tLo, tHi)
	}
	prob.tb = tHi
	if err := sess.Restart(0, y); err != nil {
		return err
	}
	span := tHi - tLo
	for sess.T < span {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", dynamo.ErrCanceled, err)
		}
		if _, err := sess.Step(span); err != nil {
			return fmt.Errorf("backward integration at t=%g: %w", tHi-sess.T, err)
		}
	}
	copy(y, sess.Y)
	return nil
}

// ChainColumns scales column j of m by c[j], mapping linear-parameter
// derivatives to the parameter scale.
func ChainColumns(m *mat.Dense, c []float64) {
	r, cols := m.Dims()
	for j := 0; j < cols; j++ {
		for i := 0; i < r; i++ {
			m.Set(i, j, m.At(i, j)*c[j])
		}
	}
}

// ChainVector scales v entrywise by c.
func ChainVector(v, c []float64) {
	for i := range v {
		v[i] *= c[i]
	}
}
