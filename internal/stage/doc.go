// Package stage defines the closed set of pipeline steps, their static
// descriptors, and the registry that binds each step to its handler.
//
// Descriptors carry the operation order, GPU eligibility, the configuration
// switch that enables the step, and the prerequisites a project document must
// satisfy before the step may run. The registry refuses to build unless every
// step has exactly one handler.
package stage
