/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package daemon

import (
	"os"
	"syscall"
)

// DefaultSignals end the player.
var DefaultSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
