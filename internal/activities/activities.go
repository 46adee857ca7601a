// Package activities holds the activity kinds shipped with the server.
package activities

import "github.com/lotuspar/libblitz/internal/activity"

const (
	KindLobby      = "lobby"
	KindRound      = "round"
	KindScoreboard = "scoreboard"
)

// Register binds every shipped kind. The authority and replicas register the
// same set so mirrors can be built from a kind name.
func Register(registry *activity.Registry) {
	registry.Register(KindLobby, NewLobby)
	registry.Register(KindRound, NewRound)
	registry.Register(KindScoreboard, NewScoreboard)
}

// Registry returns a registry holding every shipped kind.
func Registry() *activity.Registry {
	registry := activity.NewRegistry()
	Register(registry)
	return registry
}
