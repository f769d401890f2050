// Package engine is the boundary to the photogrammetry engine.
//
// A Session is scoped to one step invocation: the dispatcher opens it against
// the engine project file, issues Calls in the step's fixed operation order,
// saves, and closes. Two adapters exist. Command drives a long-lived helper
// process (the vendor's headless runner plus a bridge script) over a JSON-lines
// protocol and forwards everything else the helper prints, so licence messages
// and progress markers reach the supervisor untouched. Simulated is a
// deterministic in-process engine for dry runs and tests.
package engine
