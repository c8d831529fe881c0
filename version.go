package simflow

// Version is the platform release, overridable at build time with
// -ldflags "-X github.com/voyasim/simflow.Version=...".
var Version = "0.4.0"
