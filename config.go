// Package clogger maintains a persistent, densely numbered local window
// over a remote, linear Mercurial-style changelog.
package clogger

import (
	"time"

	"github.com/alecthomas/kong"
	"gitlab.com/tozd/go/cli"
	"gitlab.com/tozd/go/zerolog"
)

const (
	// DefaultSchema is the default PostgreSQL schema name.
	DefaultSchema = "clogger"
	// DefaultBranch is the default changelog branch to follow.
	DefaultBranch = "default"

	// DefaultTipWaitTime is the tip worker's idle cadence.
	DefaultTipWaitTime = 300 * time.Second
	// DefaultBackfillWaitTime is the backfill worker's idle cadence.
	DefaultBackfillWaitTime = 60 * time.Second
	// DefaultMaintenanceWaitTime is the maintenance worker's idle cadence.
	DefaultMaintenanceWaitTime = 1800 * time.Second
	// DefaultDeletionWaitTime is the deleter worker's idle cadence.
	DefaultDeletionWaitTime = 60 * time.Second
	// DefaultFrontierWaitTime is how long AdvanceFrontier polling waits between checks.
	DefaultFrontierWaitTime = 60 * time.Second

	// DefaultMinPermanent is the minimum number of newest rows kept permanent.
	DefaultMinPermanent = 1000
	// DefaultMaxNonPermanent is the maximum number of non-permanent rows kept
	// before the oldest are scheduled for deletion.
	DefaultMaxNonPermanent = 20000

	// DefaultInsertBatchSize bounds how many rows a single InsertBatch call writes.
	DefaultInsertBatchSize = 500
)

// PostgresConfig contains configuration for the PostgreSQL database holding
// the changeset log and the external tables it cascades deletes into.
//
//nolint:lll
type PostgresConfig struct {
	URL    kong.FileContentFlag `env:"URL_PATH"             help:"File with PostgreSQL database URL."                           placeholder:"PATH" required:"" short:"d" yaml:"database"`
	Schema string               `default:"${defaultSchema}" help:"Name of the PostgreSQL schema to use for the changeset log." placeholder:"NAME"                       yaml:"schema"`
}

// HgConfig contains configuration for the remote changelog to follow.
//
//nolint:lll
type HgConfig struct {
	URL    string `                          help:"Base URL of the Mercurial-style JSON changelog server." placeholder:"URL" required:"" yaml:"url"`
	Branch string `default:"${defaultBranch}" help:"Branch to follow."                                     placeholder:"NAME"             yaml:"branch"`
	Cache  int    `                          help:"Number of changelog pages to cache in memory. 0 disables caching." placeholder:"INT"               yaml:"cache"`
}

// TuidConfig contains configuration for the optional external TUID service
// that backs the UpdateVeryOldFrontiers frontier-advance path.
//
//nolint:lll
type TuidConfig struct {
	URL string `help:"Base URL of the TUID frontier-advance service. Required when workers.updateVeryOldFrontiers is set." placeholder:"URL" yaml:"url"`
}

// WorkersConfig contains the cadences and retention limits the four
// background workers operate under. Defaults match production cadences;
// tests shrink them to run the algorithms without waiting.
//
//nolint:lll
type WorkersConfig struct {
	TipWaitTime         time.Duration `default:"${defaultTipWaitTime}"         help:"How long the tip worker sleeps when there is nothing to do."         yaml:"tipWaitTime"`
	BackfillWaitTime    time.Duration `default:"${defaultBackfillWaitTime}"    help:"How long the backfill worker sleeps when its queue is empty."        yaml:"backfillWaitTime"`
	MaintenanceWaitTime time.Duration `default:"${defaultMaintenanceWaitTime}" help:"How long the maintenance worker sleeps between sweeps."              yaml:"maintenanceWaitTime"`
	DeletionWaitTime    time.Duration `default:"${defaultDeletionWaitTime}"    help:"How long the deleter worker sleeps when its queue is empty."         yaml:"deletionWaitTime"`
	FrontierWaitTime    time.Duration `default:"${defaultFrontierWaitTime}"    help:"How long to wait between polls of AdvanceFrontier's progress."       yaml:"frontierWaitTime"`

	MinPermanent     int64 `default:"${defaultMinPermanent}"     help:"Newest rows kept permanently resident, by count."                   yaml:"minPermanent"`
	MaxNonPermanent  int64 `default:"${defaultMaxNonPermanent}"  help:"Non-permanent rows kept before the oldest are scheduled for deletion." yaml:"maxNonPermanent"`
	InsertBatchSize  int   `default:"${defaultInsertBatchSize}"  help:"Maximum rows written per InsertBatch call."                          yaml:"insertBatchSize"`

	DisableTipFilling      bool `help:"Disable the tip-following worker."    yaml:"disableTipFilling"`
	DisableBackfilling     bool `help:"Disable the backfill worker."          yaml:"disableBackfilling"`
	DisableMaintenance     bool `help:"Disable the maintenance worker."       yaml:"disableMaintenance"`
	DisableDeletion        bool `help:"Disable the deleter worker."           yaml:"disableDeletion"`
	UpdateVeryOldFrontiers bool `help:"Request identity-frontier advancement for files pinned at a revision about to be retired, before retiring it." yaml:"updateVeryOldFrontiers"`
}

// Globals describes top-level (global) flags, shared by every command.
//
//nolint:lll
type Globals struct {
	zerolog.LoggingConfig `yaml:",inline"`

	Version kong.VersionFlag `help:"Show program's version and exit." short:"V" yaml:"-"`
	Config  cli.ConfigFlag   `help:"Load configuration from a JSON or YAML file." name:"config" placeholder:"PATH" short:"c" yaml:"-"`

	Postgres PostgresConfig `embed:"" envprefix:"POSTGRES_" prefix:"postgres." yaml:"postgres"`
	Hg       HgConfig       `embed:"" envprefix:"HG_"       prefix:"hg."       yaml:"hg"`
	Tuid     TuidConfig     `embed:"" envprefix:"TUID_"     prefix:"tuid."     yaml:"tuid"`
	Workers  WorkersConfig  `embed:"" envprefix:"WORKERS_"  prefix:"workers."  yaml:"workers"`
}

// Config provides configuration. It is used as configuration for Kong
// command-line parser as well.
type Config struct {
	Globals `yaml:"globals"`

	Run RunCommand `cmd:"" default:"withargs" help:"Run the changeset log cache. Default command." yaml:"run"`
}

// RunCommand contains configuration for the run command. It has no fields
// of its own: everything it needs lives on Globals.
type RunCommand struct{}
