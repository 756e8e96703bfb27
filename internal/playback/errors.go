package playback

import "errors"

var (
	// ErrConnection indicates the tenant's voice transport is unreachable.
	ErrConnection = errors.New("voice connection unavailable")

	// ErrResolution indicates the media backend could not produce a Track.
	ErrResolution = errors.New("media resolution failed")

	// ErrConstruction indicates a player could not be built from a resolved Track.
	ErrConstruction = errors.New("player construction failed")

	// ErrContinuation indicates a queue item continuation failed to run.
	ErrContinuation = errors.New("continuation failed")

	// ErrNothingPlaying is returned by skip and stop when the tenant is idle.
	ErrNothingPlaying = errors.New("nothing is playing")

	// ErrNotConnected is returned by leave when there is no voice connection.
	ErrNotConnected = errors.New("not connected to a voice channel")

	// ErrEmptyPlaylist indicates a playlist source yielded no entries.
	ErrEmptyPlaylist = errors.New("playlist has no entries")

	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionClosed is returned when a removed session is used.
	ErrSessionClosed = errors.New("session closed")
)

// errStale marks work abandoned because Stop or Leave moved the session epoch.
var errStale = errors.New("superseded by stop")
