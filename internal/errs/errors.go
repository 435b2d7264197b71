// Package errs collects the error taxonomy from spec §7 as sentinel
// values so every layer can classify failures with errors.Is instead of
// string matching, following the teacher's habit of small package-level
// sentinel declarations (see dht.ErrBadRecord and friends).
package errs

import "errors"

var (
	ErrMalformedEnvelope = errors.New("overlay: malformed envelope")
	ErrChecksumMismatch  = errors.New("overlay: checksum mismatch")
	ErrSignatureMismatch = errors.New("overlay: signature mismatch")
	ErrNoSession         = errors.New("overlay: no session key for peer")
	ErrPeerUnknown       = errors.New("overlay: peer unknown")
	ErrRPCTimeout        = errors.New("overlay: dht rpc timeout")
	ErrAckTimeout        = errors.New("overlay: ack timeout")
	ErrMaxRetries        = errors.New("overlay: max retries exceeded")
	ErrTransportClosed   = errors.New("overlay: transport closed")
	ErrStunFailed        = errors.New("overlay: stun probe failed")
	ErrRateLimited       = errors.New("overlay: rate limited")
)
