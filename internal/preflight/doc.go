// Package preflight provides readiness checks for the filesystem paths and
// external binaries a mission depends on.
//
// The checks back the "check" command. Each check returns a Result instead of
// an error so the command can print every problem at once; checks for
// features the configuration disables are skipped.
package preflight
