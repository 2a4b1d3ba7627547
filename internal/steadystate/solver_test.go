package steadystate_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/integrators"
	"github.com/san-kum/rxsim/internal/linalg"
	"github.com/san-kum/rxsim/internal/models"
	"github.com/san-kum/rxsim/internal/steadystate"
)

func solverFor(m dynamo.Model, mode dynamo.SteadyStateMode) *steadystate.Solver {
	cfg := dynamo.DefaultConfig()
	return &steadystate.Solver{
		Model:  m,
		Sel:    linalg.Select(linalg.KindDense, m.Dims().NX, nil, 0),
		Method: dynamo.MethodRosenbrock,
		Mode:   mode,
		Opt:    cfg.SteadyStateOpt,
		Step:   integrators.DefaultOptions(),
	}
}

var _ = Describe("Solver", func() {
	ctx := context.Background()

	Context("for linear decay", func() {
		decay := models.NewDecay()
		p := []float64{0.5, 1}

		It("converges by integration", func() {
			s := solverFor(decay, dynamo.SteadyStateIntegration)
			res, err := s.Solve(ctx, 0, decay.InitialState(p), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Converged).To(BeTrue())
			Expect(res.Strategy).To(Equal(steadystate.StrategyIntegration))
			Expect(res.X[0]).To(BeNumerically("~", 0, 1e-8))
			Expect(res.WRMS).To(BeNumerically("<", 1))
			Expect(res.Iterations).To(BeNumerically("<=", s.Opt.MaxSteps))
			Expect(res.Time).To(BeNumerically(">", 0))
		})

		It("converges by Newton in one iteration", func() {
			s := solverFor(decay, dynamo.SteadyStateNewton)
			res, err := s.Solve(ctx, 0, decay.InitialState(p), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Strategy).To(Equal(steadystate.StrategyNewton))
			Expect(res.Iterations).To(Equal(1))
			Expect(res.X[0]).To(BeNumerically("~", 0, 1e-14))
		})

		It("has zero steady-state sensitivity", func() {
			s := solverFor(decay, dynamo.SteadyStateNewton)
			sx, err := s.Sensitivity(0, dynamo.State{0}, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(sx.At(0, 0)).To(BeNumerically("~", 0, 1e-14))
			Expect(sx.At(0, 1)).To(BeNumerically("~", 0, 1e-14))
		})
	})

	Context("for a reversible conversion", func() {
		conv := models.NewConversion()
		p := []float64{2, 1}

		It("falls back from Newton to integration on a singular Jacobian", func() {
			s := solverFor(conv, dynamo.SteadyStateNewton)
			res, err := s.Solve(ctx, 0, conv.InitialState(p), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Strategy).To(Equal(steadystate.StrategyIntegration))
			// A/B = k2/k1 with A+B = 1.
			Expect(res.X[0]).To(BeNumerically("~", 1.0/3, 1e-6))
			Expect(res.X[1]).To(BeNumerically("~", 2.0/3, 1e-6))
		})

		It("reports the singular Jacobian when asked for sensitivities", func() {
			s := solverFor(conv, dynamo.SteadyStateIntegration)
			_, err := s.Sensitivity(0, dynamo.State{1.0 / 3, 2.0 / 3}, p)
			Expect(errors.Is(err, linalg.ErrSingular)).To(BeTrue())
		})
	})

	Context("for a nonlinear model with an isolated fixed point", func() {
		rot := models.NewRotator()
		p := []float64{0.5}

		It("matches the analytic sensitivity", func() {
			s := solverFor(rot, dynamo.SteadyStateNewton)
			res, err := s.Solve(ctx, 0, dynamo.State{-0.4}, p)
			Expect(err).NotTo(HaveOccurred())
			// sin θ = -ω on the stable branch.
			Expect(math.Sin(res.X[0])).To(BeNumerically("~", -0.5, 1e-9))

			sx, err := s.Sensitivity(0, res.X, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(sx.At(0, 0)).To(BeNumerically("~", -1/math.Cos(res.X[0]), 1e-8))
		})
	})

	Context("for a model without a fixed point", func() {
		rot := models.NewRotator()
		p := []float64{2}

		for _, mode := range []dynamo.SteadyStateMode{dynamo.SteadyStateIntegration, dynamo.SteadyStateNewton} {
			It("fails with the last iterate using "+mode.String(), func() {
				s := solverFor(rot, mode)
				s.Opt.MaxSteps = 200
				_, err := s.Solve(ctx, 0, rot.InitialState(p), p)
				var nc *dynamo.NonConvergenceError
				Expect(errors.As(err, &nc)).To(BeTrue())
				Expect(nc.Last).To(HaveLen(1))
				Expect(nc.Iterations).To(BeNumerically(">", 0))
				Expect(nc.WRMS).To(BeNumerically(">=", 1))
			})
		}
	})

	It("stops on cancellation", func() {
		c, cancel := context.WithCancel(ctx)
		cancel()
		rot := models.NewRotator()
		s := solverFor(rot, dynamo.SteadyStateIntegration)
		_, err := s.Solve(c, 0, dynamo.State{0}, []float64{2})
		Expect(errors.Is(err, dynamo.ErrCanceled)).To(BeTrue())
	})

	It("refuses to run when switched off", func() {
		s := solverFor(models.NewDecay(), dynamo.SteadyStateOff)
		_, err := s.Solve(ctx, 0, dynamo.State{1}, []float64{1, 1})
		Expect(errors.Is(err, dynamo.ErrInvalidConfig)).To(BeTrue())
	})
})
