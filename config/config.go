package config

import (
	"fmt"
	"strings"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	log "github.com/sirupsen/logrus"
)

const (
	DEVELOPMENT = "development"
	STAGING     = "staging"
	PRODUCTION  = "production"
)

type DBConf struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Name     string `json:"name"`
	Password string `json:"password"`
	AppName  string `json:"app_name"`
}

// PostgresDefaultDBParams are development defaults for job entry points.
var PostgresDefaultDBParams = DBConf{
	Host:     "localhost",
	Port:     5432,
	User:     "autometa",
	Name:     "autometa",
	Password: "@ut0me7a",
}

type Configuration struct {
	Env     string `json:"env"`
	AppName string `json:"app_name"`
	DBInfo  DBConf `json:"db"`
}

type Services struct {
	Db *gorm.DB
}

var configuration *Configuration = nil
var services *Services = &Services{}

// InitConf sets the package configuration and logging. Must be called
// before any other Init.
func InitConf(config *Configuration) {
	configuration = config
	initLogging()
}

func initLogging() {
	// Log as JSON instead of the default ASCII formatter.
	log.SetFormatter(&log.JSONFormatter{})

	if IsDevelopment() {
		log.SetLevel(log.DebugLevel)
	}
}

// InitDB initializes the postgres connection used as the destination
// store and registers it on services.
func InitDB(config Configuration) error {
	db, err := gorm.Open("postgres", fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s password=%s sslmode=disable",
		config.DBInfo.Host,
		config.DBInfo.Port,
		config.DBInfo.User,
		config.DBInfo.Name,
		config.DBInfo.Password))
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Error("Failed Db Initialization")
		return err
	}

	// Connection pooling and logging.
	db.DB().SetMaxIdleConns(10)
	db.DB().SetMaxOpenConns(100)
	db.LogMode(IsDevelopment())

	services.Db = db
	log.Info("Db Service initialized")
	return nil
}

func GetConfig() *Configuration {
	return configuration
}

func GetServices() *Services {
	return services
}

func IsDevelopment() bool {
	return configuration != nil &&
		strings.Compare(configuration.Env, DEVELOPMENT) == 0
}

// GetAppName returns overrideAppName if given, else the default.
func GetAppName(defaultAppName, overrideAppName string) string {
	if overrideAppName != "" {
		return overrideAppName
	}
	return defaultAppName
}
