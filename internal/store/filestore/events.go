package filestore

import "fmt"

// EventKind classifies a filesystem change.
type EventKind int

// Filesystem change kinds.
const (
	FileCreated EventKind = iota + 1
	FileModified
	FileDeleted
	FileMoved
	DirCreated
	DirModified
	DirDeleted
	DirMoved
)

func (k EventKind) String() string {
	switch k {
	case FileCreated:
		return "file_created"
	case FileModified:
		return "file_modified"
	case FileDeleted:
		return "file_deleted"
	case FileMoved:
		return "file_moved"
	case DirCreated:
		return "dir_created"
	case DirModified:
		return "dir_modified"
	case DirDeleted:
		return "dir_deleted"
	case DirMoved:
		return "dir_moved"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// IsDir reports whether the event concerns a directory.
func (k EventKind) IsDir() bool {
	return k >= DirCreated && k <= DirMoved
}

// Event is one filesystem change. Paths are absolute. Dest is only set for
// moves.
type Event struct {
	Kind EventKind
	Path string
	Dest string
}

func (e Event) String() string {
	if e.Dest != "" {
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Path, e.Dest)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}
