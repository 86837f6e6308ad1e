package transport

import (
	"fmt"
	"io"
)

const defaultMaxBodyBytes = 1 << 20 // 1MiB

// bodyTooLargeError is returned by readAllStrict when the body exceeds the limit.
type bodyTooLargeError struct {
	Limit int64
}

func (e *bodyTooLargeError) Error() string {
	return fmt.Sprintf("transport: response body exceeds limit of %d bytes", e.Limit)
}

// readAllWithLimit reads up to limit+1 bytes from r, reporting whether the
// body was truncated, without risking unbounded memory use on a malicious
// or misbehaving server. limit <= 0 falls back to defaultMaxBodyBytes, the
// same "zero value means unset" convention config.Configuration's own
// EffectiveTimeout/EffectiveMethod use, rather than treating it as a
// caller error.
func readAllWithLimit(r io.Reader, limit int64) (body []byte, truncated bool, err error) {
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	limited := io.LimitReader(r, limit+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, false, err
	}
	if int64(len(b)) > limit {
		return b[:limit], true, nil
	}
	return b, false, nil
}

// readAllStrict reads the full body up to limit bytes, failing with
// bodyTooLargeError if it's exceeded.
func readAllStrict(r io.Reader, limit int64) ([]byte, error) {
	b, truncated, err := readAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, &bodyTooLargeError{Limit: limit}
	}
	return b, nil
}
