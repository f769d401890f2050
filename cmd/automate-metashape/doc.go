// Command automate-metashape runs the photogrammetry workflow for one mission
// configuration.
//
// "run" is the supervised entry point: it spawns "exec" as a child process,
// condenses its output for the console, keeps a full-fidelity log and
// respawns the child when the engine licence is unavailable. "exec" runs the
// requested step (or every enabled step) against the persisted project.
// "steps", "status", "check" and "config" are read-only helpers.
package main
