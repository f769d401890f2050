// Package workflow dispatches pipeline steps against a persisted project.
//
// The Manager resolves a step name, loads the project document, validates the
// step's prerequisites, runs its handler against one engine session, and
// saves the engine project followed by the project document. A failing step
// saves nothing, so the previous state stays valid and the step can be run
// again. Run-all executes every enabled step in order with the same
// load-execute-save cycle per step, which keeps a continuous run equivalent to
// separate per-step invocations.
package workflow
