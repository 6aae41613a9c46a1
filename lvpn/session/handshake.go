package session

import (
	"github.com/samber/oops"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/protocol"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport"
)

// HandshakeOptions are advertised in the local hello.
type HandshakeOptions struct {
	Compression bool
}

func (o HandshakeOptions) capabilities() map[string]string {
	caps := map[string]string{}
	if o.Compression {
		caps[protocol.CapCompression] = "1"
	}
	return caps
}

// HandshakeResult describes what was agreed with the peer.
type HandshakeResult struct {
	Remote      protocol.Hello
	Compression bool
}

// HandshakeInitiator sends the local fingerprint first, then reads the
// peer's. Deadlines are the caller's responsibility.
func HandshakeInitiator(conn transport.Conn, k key.Key, opts HandshakeOptions) (HandshakeResult, error) {
	local := protocol.NewHello(k.Fingerprint(), opts.capabilities())
	if err := protocol.WriteHello(conn, local); err != nil {
		return HandshakeResult{}, oops.In("handshake").Wrapf(err, "write hello")
	}
	remote, err := protocol.ReadHello(conn)
	if err != nil {
		return HandshakeResult{}, oops.In("handshake").Wrapf(err, "read hello")
	}
	return verify(k, local, remote, opts)
}

// HandshakeResponder reads the peer's fingerprint, then answers with its own
// even when they differ, so both ends observe the mismatch.
func HandshakeResponder(conn transport.Conn, k key.Key, opts HandshakeOptions) (HandshakeResult, error) {
	remote, err := protocol.ReadHello(conn)
	if err != nil {
		return HandshakeResult{}, oops.In("handshake").Wrapf(err, "read hello")
	}
	local := protocol.NewHello(k.Fingerprint(), opts.capabilities())
	if err := protocol.WriteHello(conn, local); err != nil {
		return HandshakeResult{}, oops.In("handshake").Wrapf(err, "write hello")
	}
	return verify(k, local, remote, opts)
}

func verify(k key.Key, local, remote protocol.Hello, opts HandshakeOptions) (HandshakeResult, error) {
	fp, err := remote.ParsedFingerprint()
	if err != nil {
		return HandshakeResult{}, oops.In("handshake").Wrapf(err, "remote hello")
	}
	if !fp.Equal(k.Fingerprint()) {
		return HandshakeResult{}, oops.
			In("handshake").
			With("local_fingerprint", local.Fingerprint).
			With("remote_fingerprint", remote.Fingerprint).
			Wrapf(ErrKeyMismatch, "local %s, remote %s", local.Fingerprint, remote.Fingerprint)
	}
	return HandshakeResult{
		Remote:      remote,
		Compression: opts.Compression && remote.Supports(protocol.CapCompression),
	}, nil
}
