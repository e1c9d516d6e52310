package manager

import "errors"

// These sentinels classify every FAILURE spec.md §7 names. The manager
// never panics on bad input; handlers return one of these (wrapped with
// context) instead of comparing strings.
var (
	ErrPhaseConflict  = errors.New("phase conflict")
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrNameCollision  = errors.New("name collision")
	ErrPortConflict   = errors.New("port conflict")
	ErrPrecondition   = errors.New("precondition failure")
	ErrUnknownCommand = errors.New("invalid command")
)
