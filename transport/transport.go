// Package transport carries protocol messages over the host's best-effort chat channel.
//
// The channel offers unicast text frames with sender attribution and nothing else: no
// ordering beyond the relay's own, no acknowledgements, no delivery guarantee.
package transport

import (
	"club-link/protocol"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrNotConnected is returned by channels while the local member is not in a chat room.
var ErrNotConnected = errors.New("not connected to a chat room")

// Frame is one hidden chat message. Sender is set by the relay, never trusted from the
// sending client.
type Frame struct {
	Sender  protocol.MemberId `json:"sender"`
	Target  protocol.MemberId `json:"target"`
	Tag     string            `json:"tag"`
	Content string            `json:"content"`
}

type Channel interface {
	Send(ctx context.Context, frame Frame) error
	// Subscribe installs the single inbound frame handler. It may fail with
	// host.ErrHookUnavailable while the channel is still starting.
	Subscribe(handler func(Frame)) error
}

// Endpoint builds the relay URL of a chat room resource for member, e.g.
// Endpoint("http://relay:8080", "lobby", "ws", 7) -> http://relay:8080/rooms/lobby/ws?member=7.
func Endpoint(relayURL, room, resource string, member protocol.MemberId) (*url.URL, error) {
	base, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("relay url %q must be absolute", relayURL)
	}
	if room == "" {
		return nil, errors.New("chat room name is empty")
	}

	endpoint := base.JoinPath("rooms", room, resource)
	query := endpoint.Query()
	query.Set("member", strconv.FormatInt(member, 10))
	endpoint.RawQuery = query.Encode()
	return endpoint, nil
}
