package channelopener

import "github.com/lnhostd/lnhost/internal/buildlog"

var log = buildlog.NewSubLogger("COPN")
