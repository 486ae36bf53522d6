package broadcaster

import "github.com/lnhostd/lnhost/internal/buildlog"

var log = buildlog.NewSubLogger("BRDC")
