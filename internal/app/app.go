// Package app contains the top-level orchestration for the server and client
// roles: it builds them from config, wires the console collaborator and runs
// until the context ends.
package app

import (
	"time"

	"github.com/1ureka/rtnet/internal/config"
	"github.com/1ureka/rtnet/internal/util"
)

const statsInterval = 10 * time.Second

// newReporter returns the fault sink for cfg and a function releasing it.
func newReporter(cfg config.Config) (util.Reporter, func()) {
	if cfg.ErrorLog == "" {
		return util.ConsoleReporter{}, func() {}
	}
	rs := util.Reporters{util.ConsoleReporter{}, util.NewFileReporter(cfg.ErrorLog)}
	return rs, func() { _ = rs.Close() }
}
