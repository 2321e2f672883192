package chunk

import "errors"

var (
	ErrTileOccupied   = errors.New("tile occupied")
	ErrNoBlock        = errors.New("no block at tile")
	ErrObjectNotFound = errors.New("object not found")
	ErrNotChoppable   = errors.New("object cannot be chopped")
	ErrLocked         = errors.New("target locked by another player")
)
