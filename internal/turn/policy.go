package turn

import "errors"

// ErrOffline indicates a mutation was refused because the local client is
// not connected.
var ErrOffline = errors.New("offline")

// ConnectivitySource reports the local connectivity verdict. Driven only
// by local signals, never by presence echoes.
type ConnectivitySource interface {
	Connected() bool
}

// InteractionPolicy authorizes local mutations before they reach the
// store. The policy is selected at construction: local play never blocks
// on connectivity, online play does.
type InteractionPolicy interface {
	AuthorizeMutation() error
}

// LocalPolicy allows every mutation; used for same-device play.
type LocalPolicy struct{}

func (LocalPolicy) AuthorizeMutation() error { return nil }

// OnlinePolicy refuses mutations while the connection is down, so failed
// writes surface as an immediate refusal instead of a hung commit.
type OnlinePolicy struct {
	Conn ConnectivitySource
}

func (p OnlinePolicy) AuthorizeMutation() error {
	if p.Conn != nil && !p.Conn.Connected() {
		return ErrOffline
	}
	return nil
}
