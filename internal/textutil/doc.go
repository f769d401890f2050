// Package textutil holds small string helpers shared by configuration and
// output handling: run name sanitizing and rune-safe truncation.
package textutil
