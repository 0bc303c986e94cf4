package metainfo

import "errors"

// ErrInvalidMetainfo is the startup-fatal sentinel for a malformed or
// incomplete torrent descriptor.
var ErrInvalidMetainfo = errors.New("metainfo: invalid torrent file")
