// Package filestore provides a directory-backed storage backend that
// separate processes can share.
//
// Each key is stored in its own file. Writes go to a temporary file that
// is renamed into place, so readers never see a partial value and the
// last rename wins. Every value carries the writer's origin envelope;
// deletes are tombstones. Changes made by other processes are detected
// with fsnotify on the directory.
package filestore
