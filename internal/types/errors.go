package locitypes

import "errors"

// Domain specific errors shared by the catalog packages.
var (
	ErrNotFound       = errors.New("requested item not found")
	ErrBadRequest     = errors.New("bad request")
	ErrRecordRejected = errors.New("place record rejected")
	ErrEngineClosed   = errors.New("destinations engine closed")
)
