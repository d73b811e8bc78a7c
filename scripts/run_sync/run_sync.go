package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jinzhu/now"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	C "crmsync/config"
	IntHubspot "crmsync/integration/hubspot"
	"crmsync/model"
	"crmsync/store"
	"crmsync/sync"
)

// hubspotEnvConf allows the api key to come from the environment
// (HUBSPOT_API_KEY) instead of a flag, the way deployed jobs pass secrets.
type hubspotEnvConf struct {
	APIKey string `envconfig:"API_KEY"`
}

type syncJobStatus struct {
	Success  []*model.SyncRun `json:"success"`
	Failures []*model.SyncRun `json:"failures,omitempty"`
}

func main() {
	env := flag.String("env", C.DEVELOPMENT, "")
	dbHost := flag.String("db_host", C.PostgresDefaultDBParams.Host, "")
	dbPort := flag.Int("db_port", C.PostgresDefaultDBParams.Port, "")
	dbUser := flag.String("db_user", C.PostgresDefaultDBParams.User, "")
	dbName := flag.String("db_name", C.PostgresDefaultDBParams.Name, "")
	dbPass := flag.String("db_pass", C.PostgresDefaultDBParams.Password, "")

	hubspotAPIKey := flag.String("hubspot_api_key", "", "Overrides HUBSPOT_API_KEY from environment.")
	hubspotAPIURL := flag.String("hubspot_api_url", IntHubspot.HubspotAPIURL, "")

	objectTypes := flag.String("object_types", "", "Comma separated object types to sync. Empty syncs all.")
	batchSize := flag.Int("batch_size", 1000, "Records staged and merged per batch.")
	reconcileEvery := flag.Int("reconcile_every", 10, "Incremental runs between full-identity reconciliation passes.")
	maxSourceDrop := flag.Float64("max_source_drop", 0.5, "Max fraction the source count may drop before the deletion phase aborts.")
	startTimestamp := flag.String("start_timestamp", "", "Overrides the stored sync cursor, e.g. 2024-03-01 or RFC3339.")

	overrideHealthcheckPingID := flag.String("healthcheck_ping_id", "", "Override default healthcheck ping id.")
	overrideAppName := flag.String("app_name", "", "Override default app_name.")

	flag.Parse()

	appName := C.GetAppName("crm_sync", *overrideAppName)
	healthcheckPingID := C.GetHealthcheckPingID("", *overrideHealthcheckPingID)

	if *env != C.DEVELOPMENT && *env != C.STAGING && *env != C.PRODUCTION {
		panic(fmt.Errorf("env [ %s ] not recognised", *env))
	}

	config := &C.Configuration{
		AppName: appName,
		Env:     *env,
		DBInfo: C.DBConf{
			Host:     *dbHost,
			Port:     *dbPort,
			User:     *dbUser,
			Name:     *dbName,
			Password: *dbPass,
			AppName:  appName,
		},
	}
	C.InitConf(config)

	var envConf hubspotEnvConf
	if err := envconfig.Process("hubspot", &envConf); err != nil {
		log.WithError(err).Panic("Failed to read hubspot environment config.")
	}
	apiKey := envConf.APIKey
	if *hubspotAPIKey != "" {
		apiKey = *hubspotAPIKey
	}
	if apiKey == "" {
		panic(fmt.Errorf("hubspot api key not provided"))
	}

	if err := C.InitDB(*config); err != nil {
		log.WithError(err).WithFields(log.Fields{"env": *env,
			"host": *dbHost, "port": *dbPort}).Panic("Failed to initialize DB.")
	}

	db := C.GetServices().Db
	defer db.Close()

	recordStore := store.New(db)
	if err := recordStore.Migrate(); err != nil {
		log.WithError(err).Panic("Failed to migrate destination tables.")
	}

	client := IntHubspot.NewClient(apiKey)
	client.BaseURL = *hubspotAPIURL

	engine := sync.New(client, recordStore)
	engine.BatchSize = *batchSize
	engine.ReconcileEvery = *reconcileEvery
	engine.MaxSourceDropFraction = *maxSourceDrop

	types, err := resolveObjectTypes(*objectTypes)
	if err != nil {
		log.WithError(err).Panic("Failed to resolve object types.")
	}

	if *startTimestamp != "" {
		overrideCursor(recordStore, types, *startTimestamp)
	}

	var jobStatus syncJobStatus
	anyFailure := false
	for _, objectType := range types {
		run, err := engine.Run(objectType)
		if err != nil {
			anyFailure = true
			jobStatus.Failures = append(jobStatus.Failures, run)
			continue
		}
		jobStatus.Success = append(jobStatus.Success, run)
	}

	if anyFailure {
		C.PingHealthcheckForFailure(healthcheckPingID, jobStatus)
		os.Exit(1)
	}
	C.PingHealthcheckForSuccess(healthcheckPingID, jobStatus)
}

func resolveObjectTypes(names string) ([]model.ObjectType, error) {
	if names == "" {
		return model.GetSyncObjectTypes(), nil
	}

	types := make([]model.ObjectType, 0)
	for _, name := range strings.Split(names, ",") {
		objectType, exists := model.GetObjectTypeByName(strings.TrimSpace(name))
		if !exists {
			return nil, fmt.Errorf("unknown object type %q", name)
		}
		types = append(types, objectType)
	}
	return types, nil
}

// overrideCursor rewrites the stored cursor so the next run re-covers the
// window from the given timestamp. Accepts dates and RFC3339 timestamps.
func overrideCursor(recordStore *store.Store, types []model.ObjectType, timestamp string) {
	parsed, err := now.Parse(timestamp)
	if err != nil {
		log.WithError(err).WithField("start_timestamp", timestamp).
			Panic("Failed to parse start timestamp.")
	}

	for _, objectType := range types {
		state, err := recordStore.GetSyncState(objectType.Name)
		if err != nil {
			log.WithError(err).Panic("Failed to get sync state for cursor override.")
		}
		state.CursorTimestamp = parsed
		if err := recordStore.SaveSyncState(state); err != nil {
			log.WithError(err).Panic("Failed to save overridden sync cursor.")
		}
		log.WithFields(log.Fields{"object_type": objectType.Name,
			"cursor": parsed}).Info("Sync cursor overridden.")
	}
}
