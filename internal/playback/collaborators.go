package playback

import "context"

// Resolver turns queries and playlist entries into Tracks. Implementations
// must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, query string) (Track, error)
	ResolvePlaylist(ctx context.Context, url string) ([]PlaylistEntry, int, error)
	ResolveEntry(ctx context.Context, entry PlaylistEntry) (Track, error)
}

// Player is a live playable resource built for one Track.
type Player interface {
	// Release frees the player. Calling it more than once is safe.
	Release() error
}

// PlayerFactory builds players.
type PlayerFactory interface {
	CreatePlayer(ctx context.Context, track Track) (Player, error)
}

// Transport is one tenant's audio connection.
type Transport interface {
	Connect(ctx context.Context, channelID string) error
	IsConnected() bool
	// Play starts player on the connection. onComplete is invoked exactly once
	// per successful Play call, from the transport's own goroutine, with the
	// playback error or nil.
	Play(player Player, onComplete func(error)) error
	Stop()
	Disconnect(ctx context.Context) error
}

// TransportFactory creates the Transport for a tenant.
type TransportFactory func(tenantID string) Transport

// Notifier delivers user-facing messages. Delivery is best effort and must
// not block for long.
type Notifier interface {
	Notify(tenantID, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(tenantID, message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(tenantID, message string) { f(tenantID, message) }
