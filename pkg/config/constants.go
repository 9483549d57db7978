package config

const (
	EnvPrefix = "GREENMILE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "GREENMILE_DB_DSN"
	EnvDBHost = "GREENMILE_DB_HOST"
	EnvDBUser = "GREENMILE_DB_USER"
	EnvDBName = "GREENMILE_DB_NAME"
)

// legacyDBEnvVars are the discrete connection vars accepted when a full
// DSN is not provided.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
