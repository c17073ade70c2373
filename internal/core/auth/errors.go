package auth

import "errors"

// ErrAuthentication covers login, token renewal and endpoint directory
// failures. It is fatal to the operation that triggered it and surfaces to
// the caller unchanged.
var ErrAuthentication = errors.New("noon: authentication failed")
