package eventhandler

import "github.com/lnhostd/lnhost/internal/buildlog"

var log = buildlog.NewSubLogger("EVNT")
