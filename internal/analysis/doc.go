// Package analysis checks and explores models through the driver.
//
//   - [CheckSensitivities]: central finite differences against forward
//     sensitivities and the objective gradient
//   - [SteadyStateSweep]: steady states over a range of one parameter
//
// Both fan their runs out over a [dynamo.Ensemble]:
//
//	rep, err := analysis.CheckSensitivities(ctx, m, cfg, req, analysis.CheckOptions{})
//	if !rep.OK {
//	    // inspect rep.Worst
//	}
package analysis
