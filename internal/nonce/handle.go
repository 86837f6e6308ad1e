package nonce

import (
	"fmt"
	"regexp"
	"strconv"

	hsmerrors "github.com/R3E-Network/hsmclient/errors"
)

// Handle is the printable token identifying a UO: apiKey + "00" + uoId(8
// hex) + "00" + uoType(8 hex) (spec.md §3). A handle without a type
// defaults uoType to 0.
type Handle struct {
	APIKey string
	UOID   uint32
	UOType uint32
}

var handleRe = regexp.MustCompile(`^([A-Za-z0-9_-]+?)00([0-9a-f]{8})(?:00([0-9a-f]{8}))?$`)

// ParseHandle parses a printable handle token.
func ParseHandle(s string) (Handle, error) {
	m := handleRe.FindStringSubmatch(s)
	if m == nil {
		return Handle{}, hsmerrors.InvalidArgument("nonce: malformed handle")
	}

	uoID, err := strconv.ParseUint(m[2], 16, 32)
	if err != nil {
		return Handle{}, hsmerrors.InvalidArgument("nonce: malformed handle uoId")
	}

	var uoType uint64
	if m[3] != "" {
		uoType, err = strconv.ParseUint(m[3], 16, 32)
		if err != nil {
			return Handle{}, hsmerrors.InvalidArgument("nonce: malformed handle uoType")
		}
	}

	return Handle{APIKey: m[1], UOID: uint32(uoID), UOType: uint32(uoType)}, nil
}

// FormatHandle renders a handle token: apiKey + "00" + uoId(8 hex) + "00" + uoType(8 hex).
func FormatHandle(apiKey string, uoID, uoType uint32) string {
	return fmt.Sprintf("%s00%08x00%08x", apiKey, uoID, uoType)
}

// String renders the handle's canonical token form.
func (h Handle) String() string {
	return FormatHandle(h.APIKey, h.UOID, h.UOType)
}

// Bit flags encoded in uoType, per spec.md §3.
const (
	// CommKeyFlag marks that the client supplied a communication key.
	CommKeyFlag uint32 = 1 << 20
	// AppKeyFlag marks that the client supplied an application key.
	AppKeyFlag uint32 = 1 << 21
)

// HasCommKey reports whether the comm-key flag (bit 20) is set.
func (h Handle) HasCommKey() bool { return h.UOType&CommKeyFlag != 0 }

// HasAppKey reports whether the app-key flag (bit 21) is set.
func (h Handle) HasAppKey() bool { return h.UOType&AppKeyFlag != 0 }
