// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

// ErrAlreadyStarted is returned when Run is called twice on one App.
var ErrAlreadyStarted = errors.New("daemon already started")
