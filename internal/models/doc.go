// Package models holds hand-written reaction network models that satisfy
// the dynamo model contract. They cover the shapes the engine has to
// handle: linear and nonlinear kinetics, stiff and algebraic systems,
// events, sparse Jacobians and models that misbehave on purpose.
package models

// Nominal is implemented by every model in this package. It returns
// parameter values on linear scale that give a representative trajectory.
type Nominal interface {
	NominalParameters() []float64
}
