// Package dynamo defines the core types of the rxsim engine.
//
// The package holds the model contract and the run-level value types shared
// by every other package:
//
//   - [State]: vector representing a model state
//   - [Model]: the compiled-model callable surface (right-hand side,
//     Jacobians, initial conditions)
//   - [RootModel], [MassModel], [SparseModel], [ObservableModel] and friends:
//     optional capabilities discovered when a run initializes
//   - [Config]: engine options of one run
//   - [Request] and [Result]: inputs and outputs of one run
//
// # Example
//
//	m := models.NewConversion()
//	d, _ := sim.New(m, dynamo.DefaultConfig())
//	res, _ := d.Run(ctx, dynamo.Request{Parameters: []float64{1, 0.5}, Times: ts})
//
// # Thread Safety
//
// Models must be safe for concurrent use (they are pure functions of
// their arguments). A single run is sequential; independent runs can be
// executed concurrently with [Ensemble].
package dynamo
