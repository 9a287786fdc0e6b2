// Package binpatch patches binary files by locating a byte signature
// and overwriting bytes at a fixed offset from it.
//
// APIs are separated into subpackages, and documented accordingly.
// This package provides Apply, which patches a single file the way
// the binpatch command does when run interactively.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package binpatch
