// Package command defines the tabsession commands using urfave/cli/v2.
//
//   - root.go: application, global flags, configuration and logger setup
//   - env.go: store, broadcast and controller wiring shared by commands
//   - login.go, callback.go, logout.go: the login flow
//   - status.go: stored session and refresh lock inspection
//   - watch.go: long-running tabs with automatic refresh
//   - lock.go: the cross-process lock from the shell
//   - config.go, version.go: configuration and build information
//
// Every command acts as one or more tabs sharing the configured store.
// Separate invocations against the same file store behave like separate
// browser tabs.
package command
