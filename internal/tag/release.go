//go:build !debug

package tag

// Debug is false in default builds.
const Debug = false
