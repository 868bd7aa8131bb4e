package fetch

import (
	"fmt"

	"github.com/die-net/sockget/internal/socks"
)

var (
	ErrBadStatusLine       = fmt.Errorf("%w: failed to parse response status code", socks.ErrProtocolViolation)
	ErrMalformedHeader     = fmt.Errorf("%w: malformed response header", socks.ErrProtocolViolation)
	ErrUnsupportedEncoding = fmt.Errorf("%w: unsupported content encoding", socks.ErrProtocolViolation)
	ErrUnsupportedScheme   = fmt.Errorf("%w: unsupported URL scheme", socks.ErrArgument)
	ErrUnknownMethod       = fmt.Errorf("%w: unknown HTTP method", socks.ErrArgument)
)
