// Command clogger runs the changeset log cache as a standalone process.
package main

import (
	"strconv"

	"github.com/alecthomas/kong"
	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/mozilla/clogger"
)

func main() {
	var config clogger.Config
	cli.Run(&config, kong.Vars{
		"defaultSchema":              clogger.DefaultSchema,
		"defaultBranch":              clogger.DefaultBranch,
		"defaultTipWaitTime":         clogger.DefaultTipWaitTime.String(),
		"defaultBackfillWaitTime":    clogger.DefaultBackfillWaitTime.String(),
		"defaultMaintenanceWaitTime": clogger.DefaultMaintenanceWaitTime.String(),
		"defaultDeletionWaitTime":    clogger.DefaultDeletionWaitTime.String(),
		"defaultFrontierWaitTime":    clogger.DefaultFrontierWaitTime.String(),
		"defaultMinPermanent":        strconv.FormatInt(clogger.DefaultMinPermanent, 10),
		"defaultMaxNonPermanent":     strconv.FormatInt(clogger.DefaultMaxNonPermanent, 10),
		"defaultInsertBatchSize":     strconv.Itoa(clogger.DefaultInsertBatchSize),
	}, func(ctx *kong.Context) errors.E {
		return errors.WithStack(ctx.Run(&config.Globals))
	})
}
