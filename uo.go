// Package hsmclient is the library's root: the UO record (spec.md §3) and
// the Client that composes transport, wire/processdata, hotp, and
// provision into the high-level operations a caller actually wants —
// invoke a UO and provision a new one — the way
// infrastructure/globalsigner/client.Client composes its HTTP connector
// into Sign/Derive/GetAttestation.
package hsmclient

import (
	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/nonce"
)

const transportKeySize = 32

// UO is the client's handle on a provisioned User Object (spec.md §3):
// {uoId, uoType, encKey, macKey, apiKey, endpoint}. EncKey/MacKey are the
// 256-bit transport keys negotiated at creation; endpoint overrides
// Configuration.EndpointProcess for calls made against this UO, per the
// four-layer precedence rule in transport.EffectiveRequest.
type UO struct {
	UOID     uint32
	UOType   uint32
	EncKey   []byte
	MacKey   []byte
	APIKey   string
	Endpoint string
}

// NewUO builds a UO, validating the transport keys are 256 bits as spec.md
// §3 requires. Endpoint may be left empty to fall back to Configuration's
// EndpointProcess at call time.
func NewUO(apiKey string, uoID, uoType uint32, encKey, macKey []byte, endpoint string) (*UO, error) {
	if apiKey == "" {
		return nil, hsmerrors.InvalidArgument("hsmclient: apiKey must not be empty")
	}
	if len(encKey) != transportKeySize || len(macKey) != transportKeySize {
		return nil, hsmerrors.InvalidArgument("hsmclient: encKey/macKey must be 256 bits")
	}
	return &UO{
		UOID:     uoID,
		UOType:   uoType,
		EncKey:   encKey,
		MacKey:   macKey,
		APIKey:   apiKey,
		Endpoint: endpoint,
	}, nil
}

// Handle returns the UO's nonce.Handle (apiKey, uoId, uoType); its String
// method renders the printable handle token.
func (u *UO) Handle() nonce.Handle {
	return nonce.Handle{APIKey: u.APIKey, UOID: u.UOID, UOType: u.UOType}
}

// HasCommKey reports whether the handle's type bits mark a client-supplied
// communication key (bit 20).
func (u *UO) HasCommKey() bool { return u.Handle().HasCommKey() }

// HasAppKey reports whether the handle's type bits mark a client-supplied
// application key (bit 21).
func (u *UO) HasAppKey() bool { return u.Handle().HasAppKey() }
