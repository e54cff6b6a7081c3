package nfs

import "errors"

var (
	errInvalidPort           = errors.New("nfs: port must be between 1 and 65535")
	errInvalidMaxConnections = errors.New("nfs: max_connections must be >= 0")
	errInvalidVersionRange   = errors.New("nfs: version_low must be <= version_high")
	errInvalidSearchHandles  = errors.New("nfs: search_handles_default must be <= search_handles_max")
)
