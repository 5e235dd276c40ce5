// Package diff parses the unified-diff text returned by an SCM port into
// the domain's DiffDocument/FileModification/DiffHunk model consumed by the
// context pipeline and the prompt builder.
package diff
