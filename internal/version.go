package internal

// Version is the daemon's release version.
//
// The commit placeholder is replaced on `git archive` using the `export-subst` attribute.
var Version = "0.1.0"

// Commit contains the Git commit information.
var Commit = "$Format:%H$"
