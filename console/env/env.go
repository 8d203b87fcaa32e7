// Package env loads environment variables from the .env file and exposes the console switches
package env

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

const (
	_debug          = "DEBUG"            // print debug messages and run dumps
	_disableLogTime = "DISABLE_LOG_TIME" // disable timestamp in logs
	_envFile        = "./.env"           // path to environment variables file

	Addr       = "CONSOLE_ADDR"
	ConfigFile = "CONSOLE_CONFIG"
	ElasticURL = "ELASTIC_URL"
)

var (
	Debug         = false
	LogTimestamps = true
)

// Eval returns the boolean value of the env variable with the given key
func Eval(key string) bool {
	return os.Getenv(key) == "1" || os.Getenv(key) == "true" || os.Getenv(key) == "TRUE"
}

// String returns the value of the env variable with the given key, or def if it is not set
func String(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func init() {
	err := godotenv.Load(_envFile)
	if err == nil {
		log.Println("Loaded environment file:", _envFile)
	}

	Debug = Eval(_debug)
	LogTimestamps = !Eval(_disableLogTime)

	log.Println(_debug, Debug)
	log.Println(_disableLogTime, !LogTimestamps)
}
