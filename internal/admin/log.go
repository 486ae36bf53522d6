package admin

import "github.com/lnhostd/lnhost/internal/buildlog"

var log = buildlog.NewSubLogger("ADMN")
