package transport

import "github.com/pkg/errors"

// errInvalidReconnectPeer is returned by Connection.ReconnectTo when
// handed a Peer implementation this package does not know how to adopt
// the migrated socket/address state of.
var errInvalidReconnectPeer = errors.New("transport: reconnect target is not a *Connection")
