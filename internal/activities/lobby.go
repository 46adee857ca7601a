package activities

import (
	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
)

// Lobby is the waiting room. It only shows its HUD and hands nothing forward.
type Lobby struct {
	activity.Base
}

func NewLobby(r roster.Roster) activity.Activity {
	return &Lobby{Base: activity.NewBase(r, activity.None, "lobby_hud")}
}
