// Command turnoverctl runs one-off operator actions against the turnover database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"villaops/internal/config"
	"villaops/internal/database"
	"villaops/internal/domain"
	"villaops/internal/lifecycle"
	"villaops/internal/logging"
	"villaops/internal/models"
	"villaops/internal/notify"
	"villaops/internal/repository"
	"villaops/internal/staff"
	"villaops/internal/sweep"
	"villaops/internal/worker"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type CLI struct {
	Config string `help:"Path to the config file." default:"configs/config.yaml" env:"CONFIG_PATH" type:"path"`

	SweepCheckout SweepCheckoutCmd `cmd:"" name:"sweep-checkout" help:"Complete every checkout whose time has passed."`
	SweepTimeouts SweepTimeoutsCmd `cmd:"" name:"sweep-timeouts" help:"Expire stale offers and escalate stalled jobs."`
	SeedStaff     SeedStaffCmd     `cmd:"" name:"seed-staff" help:"Load a staff roster into the database."`
	Backup        BackupCmd        `cmd:"" help:"Write one database backup now."`
	Alerts        AlertsCmd        `cmd:"" help:"List alerts."`
}

// Globals is bound into every command's Run.
type Globals struct {
	Ctx        context.Context
	ConfigPath string
	Out        io.Writer
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("turnoverctl"),
		kong.Description("Operator commands for the villa turnover engine."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.FatalIfErrorf(kctx.Run(&Globals{Ctx: ctx, ConfigPath: cli.Config, Out: os.Stdout}))
}

// env is what a command needs from the running configuration.
type env struct {
	cfg    *config.Config
	logger *zerolog.Logger
	db     *database.DB
	redis  *redis.Client
	closer io.Closer
}

func open(g *Globals) (*env, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger, db: db, closer: closer}
	if cfg.Redis.Address != "" {
		client := repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(g.Ctx, client); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; deliveries stay in the outbox")
			_ = client.Close()
		} else {
			e.redis = client
		}
	}
	return e, nil
}

func (e *env) Close() {
	_ = repository.Close(e.redis)
	_ = e.db.Close()
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

// engine builds a lifecycle engine whose notifications land in the outbox. The worker is
// never started here; the daemon delivers them.
func (e *env) engine() *lifecycle.Engine {
	var dedupe domain.DedupeStore = repository.NewMemoryDedupeStore()
	if e.redis != nil {
		dedupe = repository.NewFailoverDedupeStore(repository.NewRedisDedupeStore(e.redis), dedupe,
			logging.Component(e.logger, "dedupe"))
	}
	queue := worker.NewDeliveryWorker(e.db, nil, e.redis, worker.RetryPolicy{}, e.cfg.Notifications.QueueSize, e.logger)
	gateway := notify.NewGateway(e.db, dedupe, queue, e.cfg.Notifications.DedupeTTL, e.logger)

	channels := make([]models.Channel, 0, len(e.cfg.Notifications.Channels))
	for _, ch := range e.cfg.Notifications.Channels {
		channels = append(channels, models.Channel(ch))
	}
	return lifecycle.NewEngine(e.db, staff.NewDirectory(e.db, e.logger), gateway, nil, e.logger,
		lifecycle.WithChannels(channels...))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type SweepCheckoutCmd struct{}

func (c *SweepCheckoutCmd) Run(g *Globals) error {
	e, err := open(g)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := sweep.NewCheckoutSweep(e.db, e.engine(), e.db, time.Now, e.logger).Run(g.Ctx)
	if perr := printJSON(g.Out, res); perr != nil {
		return perr
	}
	return err
}

type SweepTimeoutsCmd struct{}

func (c *SweepTimeoutsCmd) Run(g *Globals) error {
	e, err := open(g)
	if err != nil {
		return err
	}
	defer e.Close()

	thresholds := sweep.Thresholds{
		OfferTimeout:       e.cfg.Sweeps.OfferTimeout(),
		JobAcceptedTimeout: e.cfg.Sweeps.JobAcceptedTimeout(),
		JobStartedTimeout:  e.cfg.Sweeps.JobStartedTimeout(),
	}
	res, err := sweep.NewTimeoutSweep(e.db, e.db, nil, thresholds, time.Now, e.logger).Run(g.Ctx)
	if perr := printJSON(g.Out, res); perr != nil {
		return perr
	}
	return err
}

type SeedStaffCmd struct {
	Roster string `help:"Roster YAML file; defaults to staff.roster_path." type:"path"`
}

func (c *SeedStaffCmd) Run(g *Globals) error {
	e, err := open(g)
	if err != nil {
		return err
	}
	defer e.Close()

	path := c.Roster
	if path == "" {
		path = e.cfg.Staff.RosterPath
	}
	if path == "" {
		return fmt.Errorf("no roster given and staff.roster_path is not set")
	}

	roster, err := staff.LoadRoster(path)
	if err != nil {
		return err
	}
	n, err := staff.Seed(g.Ctx, e.db, roster)
	if err != nil {
		return err
	}
	return printJSON(g.Out, map[string]any{"roster": path, "staff": n})
}

type BackupCmd struct{}

func (c *BackupCmd) Run(g *Globals) error {
	e, err := open(g)
	if err != nil {
		return err
	}
	defer e.Close()

	backups := database.NewBackupService(e.db, database.BackupConfig{
		Enabled:       true,
		StoragePath:   e.cfg.Backup.StoragePath,
		RetentionDays: e.cfg.Backup.RetentionDays,
	}, logging.Component(e.logger, "backup"))
	return backups.Run(g.Ctx)
}

type AlertsCmd struct {
	Open bool `help:"Only unresolved alerts."`
}

func (c *AlertsCmd) Run(g *Globals) error {
	e, err := open(g)
	if err != nil {
		return err
	}
	defer e.Close()

	var resolved *bool
	if c.Open {
		no := false
		resolved = &no
	}
	alerts, err := e.db.ListAlerts(g.Ctx, resolved)
	if err != nil {
		return err
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	return printJSON(g.Out, alerts)
}
