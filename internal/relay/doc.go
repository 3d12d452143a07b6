// Package relay connects a local byte stream to the streaming gateway.
//
// Two pieces live here. The Dialer turns a session grant (gateway URL plus
// bearer token) into an authenticated WebSocket connection, exposed as a
// message oriented Conn. Relay then copies bytes between a local stream and
// that Conn in both directions until either side ends.
//
// # Relay semantics
//
// Every chunk read from the local side (at most ChunkSize bytes) is sent as
// one complete binary message. Every message received from the gateway is
// written to the local side unchanged. The first copy loop to stop, for any
// reason, stops the whole relay: the other loop is interrupted and joined
// before Relay returns. Relay never closes either stream.
//
// # Usage Example
//
//	conn, err := relay.Connect(ctx, grant.URL, grant.AuthorizationToken, logger)
//	if err != nil {
//	    return err // errors.Is(err, relay.ErrConnectFailed)
//	}
//	defer conn.Close()
//
//	local, err := net.Dial("tcp", "localhost:22")
//	if err != nil {
//	    return err
//	}
//	defer local.Close()
//
//	outcome, err := relay.Relay(ctx, local, conn, &relay.RelayOptions{Logger: logger})
//
// NewPipe returns an in-memory Conn pair for tests and in-process gateways.
package relay
