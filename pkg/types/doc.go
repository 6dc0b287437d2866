// Package types defines the Store and Writer interfaces, the Path, Snapshot
// and EventClass value types, and the standard errors shared by every
// livedb backend and by the watch and projection layers.
package types
