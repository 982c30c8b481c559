// The squashserver executable runs the verification job REST API and its
// task worker.
//
// The different parts of the service run as sub-commands, for example:
//
//	squashserver serve --config=instance_config.json --port=:8080
//	squashserver worker --config=instance_config.json
package main

import (
	"context"
	"net/http"
	"os"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/lsst-sqre/squash-rest-api/go/ci"
	"github.com/lsst-sqre/squash-rest-api/go/config"
	"github.com/lsst-sqre/squash-rest-api/go/frontend"
	"github.com/lsst-sqre/squash-rest-api/go/httputils"
	"github.com/lsst-sqre/squash-rest-api/go/influxdb"
	"github.com/lsst-sqre/squash-rest-api/go/ingest"
	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/job/memjobstore"
	"github.com/lsst-sqre/squash-rest-api/go/job/sqljobstore"
	"github.com/lsst-sqre/squash-rest-api/go/metric"
	"github.com/lsst-sqre/squash-rest-api/go/metric/memmetricstore"
	"github.com/lsst-sqre/squash-rest-api/go/metric/sqlmetricstore"
	"github.com/lsst-sqre/squash-rest-api/go/objectstore"
	"github.com/lsst-sqre/squash-rest-api/go/objectstore/gcsobjectstore"
	"github.com/lsst-sqre/squash-rest-api/go/objectstore/mem"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
	"github.com/lsst-sqre/squash-rest-api/go/sklog"
	"github.com/lsst-sqre/squash-rest-api/go/sql/migrations"
	"github.com/lsst-sqre/squash-rest-api/go/tasks"
	"github.com/lsst-sqre/squash-rest-api/go/tasks/memdispatch"
	"github.com/lsst-sqre/squash-rest-api/go/tasks/pubsubdispatch"
	"github.com/lsst-sqre/squash-rest-api/go/tasks/sqltaskstore"
	"github.com/lsst-sqre/squash-rest-api/go/transform"
)

// flag names
const (
	configFlagName        = "config"
	portFlagName          = "port"
	localFlagName         = "local"
	etlModeFlagName       = "etl-mode"
	migrationsFlagName    = "migrations"
	skipMigrationFlagName = "skip-migrations"
)

// flags
var (
	configFlag = &cli.StringFlag{
		Name:     configFlagName,
		Usage:    "Instance config file in JSON format.",
		Required: true,
	}
	portFlag = &cli.StringFlag{
		Name:  portFlagName,
		Value: ":8080",
		Usage: "HTTP service address.",
	}
	localFlag = &cli.BoolFlag{
		Name:  localFlagName,
		Value: false,
		Usage: "Run against in-memory stores with no cloud dependencies.",
	}
	etlModeFlag = &cli.BoolFlag{
		Name:  etlModeFlagName,
		Value: false,
		Usage: "Trust job creation dates supplied by the client, for backfills.",
	}
	migrationsFlag = &cli.StringFlag{
		Name:  migrationsFlagName,
		Value: "migrations/cockroachdb",
		Usage: "Directory with the database schema migrations.",
	}
	skipMigrationFlag = &cli.BoolFlag{
		Name:  skipMigrationFlagName,
		Value: false,
		Usage: "Do not apply database schema migrations at startup.",
	}
)

func main() {
	app := &cli.App{
		Name:        "squashserver",
		Description: "squashserver ingests verification jobs and publishes their measurements to a time series database.",
		Commands: []*cli.Command{
			{
				Name:        "serve",
				Description: "serve runs the REST API.",
				Usage:       "squashserver serve --config <file> --port <address>",
				Flags: []cli.Flag{
					configFlag,
					portFlag,
					localFlag,
					etlModeFlag,
					migrationsFlag,
					skipMigrationFlag,
				},
				Action: func(ctx *cli.Context) error {
					return serve(ctx.Context, ctx.String(configFlagName), ctx.String(portFlagName), ctx.Bool(localFlagName), ctx.Bool(etlModeFlagName), ctx.String(migrationsFlagName), ctx.Bool(skipMigrationFlagName))
				},
			},
			{
				Name:        "worker",
				Description: "worker processes upload and publish tasks from the task queue.",
				Usage:       "squashserver worker --config <file>",
				Flags: []cli.Flag{
					configFlag,
					localFlag,
					migrationsFlag,
					skipMigrationFlag,
				},
				Action: func(ctx *cli.Context) error {
					return worker(ctx.Context, ctx.String(configFlagName), ctx.Bool(localFlagName), ctx.String(migrationsFlagName), ctx.Bool(skipMigrationFlagName))
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		sklog.Fatal(err)
	}
}

// sqlStores opens the database, applies migrations, and builds the three
// SQL backed stores.
func sqlStores(ctx context.Context, instanceConfig *config.InstanceConfig, migrationsDir string, skipMigrations bool) (job.Store, metric.Store, tasks.StatusStore, error) {
	if !skipMigrations {
		if err := migrations.Up(migrationsDir, instanceConfig.DataStoreConfig.MigrationsConnectionString); err != nil {
			return nil, nil, nil, skerr.Wrapf(err, "failed to apply migrations from %q", migrationsDir)
		}
	}
	db, err := pgxpool.Connect(ctx, instanceConfig.DataStoreConfig.ConnectionString)
	if err != nil {
		return nil, nil, nil, skerr.Wrapf(err, "failed to connect to database")
	}
	jobStore, err := sqljobstore.New(db)
	if err != nil {
		return nil, nil, nil, skerr.Wrap(err)
	}
	metricStore, err := sqlmetricstore.New(db)
	if err != nil {
		return nil, nil, nil, skerr.Wrap(err)
	}
	taskStore, err := sqltaskstore.New(db)
	if err != nil {
		return nil, nil, nil, skerr.Wrap(err)
	}
	return jobStore, metricStore, taskStore, nil
}

// cloudClients builds the GCS and Pub/Sub clients with default credentials.
func cloudClients(ctx context.Context, project string) (*storage.Client, *pubsub.Client, error) {
	ts, err := google.DefaultTokenSource(ctx, storage.ScopeReadWrite, pubsub.ScopePubSub)
	if err != nil {
		return nil, nil, skerr.Wrap(err)
	}
	httpClient := httputils.DefaultClientConfig().WithTokenSource(ts).Client()
	storageClient, err := storage.NewClient(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, nil, skerr.Wrap(err)
	}
	pubsubClient, err := pubsub.NewClient(ctx, project, option.WithTokenSource(ts))
	if err != nil {
		return nil, nil, skerr.Wrap(err)
	}
	return storageClient, pubsubClient, nil
}

// newExecutor builds the task executor that uploads objects and publishes
// measurements.
func newExecutor(instanceConfig *config.InstanceConfig, jobStore job.Store, objects objectstore.Client) *tasks.Executor {
	ciClient := ci.NewClient(instanceConfig.APIURL, nil)
	transformer := transform.NewJob(instanceConfig.APIURL, ciClient)
	sink := influxdb.NewClient(instanceConfig.SinkConfig.URL, instanceConfig.SinkConfig.Database, nil)
	return tasks.NewExecutor(jobStore, objects, transformer, sink)
}

func serve(ctx context.Context, configFile, port string, local, etlMode bool, migrationsDir string, skipMigrations bool) error {
	instanceConfig, err := config.InstanceConfigFromFile(configFile)
	if err != nil {
		return err
	}

	var jobStore job.Store
	var metricStore metric.Store
	var objects objectstore.Client
	var dispatcher tasks.Dispatcher

	if local {
		// Local mode runs tasks inline with no database, bucket, or
		// task queue.
		memMetrics := memmetricstore.New()
		memJobs := memjobstore.New(memMetrics)
		memObjects := mem.New(instanceConfig.ObjectStoreConfig.Bucket)
		jobStore = memJobs
		metricStore = memMetrics
		objects = memObjects
		dispatcher = memdispatch.New(memdispatch.NewStatusStore(), newExecutor(instanceConfig, memJobs, memObjects))
	} else {
		var taskStore tasks.StatusStore
		jobStore, metricStore, taskStore, err = sqlStores(ctx, instanceConfig, migrationsDir, skipMigrations)
		if err != nil {
			return err
		}
		storageClient, pubsubClient, err := cloudClients(ctx, instanceConfig.TaskQueueConfig.Project)
		if err != nil {
			return err
		}
		objects = gcsobjectstore.New(storageClient, instanceConfig.ObjectStoreConfig.Bucket)
		dispatcher, err = pubsubdispatch.New(ctx, pubsubClient, instanceConfig.TaskQueueConfig.Topic, taskStore)
		if err != nil {
			return err
		}
	}

	service := ingest.New(jobStore, dispatcher, etlMode)
	f := frontend.New(service, jobStore, metricStore, dispatcher, objects)

	sklog.Infof("Ready to serve on port %s", port)
	return http.ListenAndServe(port, f.Handler())
}

func worker(ctx context.Context, configFile string, local bool, migrationsDir string, skipMigrations bool) error {
	instanceConfig, err := config.InstanceConfigFromFile(configFile)
	if err != nil {
		return err
	}

	jobStore, _, taskStore, err := sqlStores(ctx, instanceConfig, migrationsDir, skipMigrations)
	if err != nil {
		return err
	}
	storageClient, pubsubClient, err := cloudClients(ctx, instanceConfig.TaskQueueConfig.Project)
	if err != nil {
		return err
	}
	objects := gcsobjectstore.New(storageClient, instanceConfig.ObjectStoreConfig.Bucket)

	// The sink database is created on first run.
	sink := influxdb.NewClient(instanceConfig.SinkConfig.URL, instanceConfig.SinkConfig.Database, nil)
	if err := sink.CreateDatabase(ctx); err != nil {
		return skerr.Wrapf(err, "failed to create sink database %q", instanceConfig.SinkConfig.Database)
	}

	executor := tasks.NewExecutor(jobStore, objects, transform.NewJob(instanceConfig.APIURL, ci.NewClient(instanceConfig.APIURL, nil)), sink)
	w, err := pubsubdispatch.NewWorker(ctx, pubsubClient, local, instanceConfig.TaskQueueConfig.Topic, taskStore, executor)
	if err != nil {
		return err
	}

	sklog.Infof("Receiving tasks from topic %q", instanceConfig.TaskQueueConfig.Topic)
	return w.Receive(ctx)
}
