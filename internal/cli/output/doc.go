// Package output renders command results for the tabsession CLI.
//
//   - formatter.go: Format names and the Formatter factory
//   - table.go: aligned key/value and column tables
//   - json.go, yaml.go: machine-readable output
//   - spinner.go: progress animation while waiting on another process
package output
