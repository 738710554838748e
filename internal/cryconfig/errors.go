package cryconfig

import "errors"

// ErrWrongPassword is returned when the outer or inner envelope layer of a
// config blob fails to authenticate, which in practice almost always means
// the password supplied to Decode was wrong rather than that the blob is
// corrupted (§6.2 gives no separate corruption signal for this layer).
var ErrWrongPassword = errors.New("cryconfig: wrong password or corrupted config")
