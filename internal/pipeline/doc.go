// Package pipeline implements the stage handlers that drive the
// reconstruction engine for each workflow step.
//
// Handlers translate configuration sections into engine calls, keep the fixed
// operation order of each step, and record produced artifacts on the project
// document. They never save: the dispatcher persists the project after a
// handler returns successfully.
package pipeline
