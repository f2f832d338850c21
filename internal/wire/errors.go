package wire

import (
	"fmt"

	"github.com/getsentry/vroom-capture/internal/errorutil"
)

// Decode failures. All of them wrap errorutil.ErrDataIntegrity and are fatal
// to the record being decoded.
var (
	ErrTruncated           = fmt.Errorf("%w: truncated", errorutil.ErrDataIntegrity)
	ErrBadLength           = fmt.Errorf("%w: bad length", errorutil.ErrDataIntegrity)
	ErrOutOfRangeReference = fmt.Errorf("%w: out of range reference", errorutil.ErrDataIntegrity)
	ErrUnsupportedVersion  = fmt.Errorf("%w: unsupported version", errorutil.ErrDataIntegrity)
)
