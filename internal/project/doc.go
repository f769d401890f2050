// Package project persists the pipeline project document between step
// invocations.
//
// A Document is the versioned record of what the reconstruction engine has
// produced so far: cameras, the aligned camera set, and named artifact slots
// (tie points, depth maps, dense cloud, mesh, DEM, orthomosaic). The Store
// keeps one SQLite file per mission beside the engine project file, guards it
// with an advisory lock for the duration of one invocation, and writes every
// save in a single transaction together with a step history row.
package project
