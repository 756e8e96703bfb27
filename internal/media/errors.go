package media

import (
	"fmt"

	"github.com/friendsincode/guildplay/internal/playback"
)

var (
	// ErrAgeRestricted indicates the source requires sign-in. It is never retried.
	ErrAgeRestricted = fmt.Errorf("%w: age restricted", playback.ErrResolution)

	// ErrNoResults indicates a search or listing returned nothing.
	ErrNoResults = fmt.Errorf("%w: no results", playback.ErrResolution)

	// ErrUnavailable indicates the backend reported the media as removed or private.
	ErrUnavailable = fmt.Errorf("%w: unavailable", playback.ErrResolution)
)
