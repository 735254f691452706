// Package confloader loads tabsession configuration.
//
// It wraps koanf and layers sources with this priority (highest first):
//
//  1. Overrides passed as a map (command-line flags)
//  2. Environment variables (TABSESSION_ prefix)
//  3. The YAML configuration file
//  4. The defaults already present in the target struct
//
// Watcher reports edits to the configuration file so long-running
// commands can reload it.
package confloader
