package db

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vvka-141/mailq/internal/config"
	"github.com/vvka-141/mailq/pkg/mailq"
)

// GranularConnFlags represents connection parameters from CLI flags.
// These follow PostgreSQL standard flag conventions (-h, -p, -U, -d).
//
// Note: Password is NOT included as a CLI flag.
// Use one of these methods instead:
//  1. $PGPASSWORD environment variable
//  2. .pgpass file (PostgreSQL standard)
//  3. Connection string with embedded password
type GranularConnFlags struct {
	Host     string
	Port     int
	Username string
	Database string
	SSLMode  string
}

// IsEmpty returns true if no connection-related granular flags were provided by the user.
// Database is excluded because it may override the database of a connection string.
func (g *GranularConnFlags) IsEmpty() bool {
	return g.Host == "" && g.Port == 0 && g.Username == "" && g.SSLMode == ""
}

// AzureFlags selects Azure Entra ID authentication.
// The client secret only comes from AZURE_CLIENT_SECRET.
type AzureFlags struct {
	Enabled  bool
	TenantID string // Overrides AZURE_TENANT_ID
	ClientID string // Overrides AZURE_CLIENT_ID
}

func (a *AzureFlags) requested() bool {
	return a != nil && (a.Enabled || a.TenantID != "" || a.ClientID != "")
}

// AWSFlags selects RDS IAM authentication.
type AWSFlags struct {
	Enabled bool
	Region  string // Overrides AWS_REGION
}

// GoogleFlags selects Cloud SQL IAM authentication.
type GoogleFlags struct {
	Enabled  bool
	Instance string // project:region:instance
}

// CertFlags carries client certificate paths for mTLS.
type CertFlags struct {
	SSLCert     string
	SSLKey      string
	SSLRootCert string
}

// EnvVars represents PostgreSQL standard environment variables.
// See: https://www.postgresql.org/docs/current/libpq-envars.html
type EnvVars struct {
	PGHOST        string
	PGPORT        string
	PGUSER        string
	PGPASSWORD    string
	PGDATABASE    string
	PGSSLMODE     string
	PGSSLCERT     string
	PGSSLKEY      string
	PGSSLROOTCERT string
	DATABASE_URL  string // Full connection string (Heroku/Rails convention)

	// Azure SDK standard names
	AZURE_TENANT_ID     string
	AZURE_CLIENT_ID     string
	AZURE_CLIENT_SECRET string

	AWS_REGION string
}

// LoadFromEnvironment loads PostgreSQL and cloud provider environment variables.
func LoadFromEnvironment() *EnvVars {
	return &EnvVars{
		PGHOST:              os.Getenv("PGHOST"),
		PGPORT:              os.Getenv("PGPORT"),
		PGUSER:              os.Getenv("PGUSER"),
		PGPASSWORD:          os.Getenv("PGPASSWORD"),
		PGDATABASE:          os.Getenv("PGDATABASE"),
		PGSSLMODE:           os.Getenv("PGSSLMODE"),
		PGSSLCERT:           os.Getenv("PGSSLCERT"),
		PGSSLKEY:            os.Getenv("PGSSLKEY"),
		PGSSLROOTCERT:       os.Getenv("PGSSLROOTCERT"),
		DATABASE_URL:        os.Getenv("DATABASE_URL"),
		AZURE_TENANT_ID:     os.Getenv("AZURE_TENANT_ID"),
		AZURE_CLIENT_ID:     os.Getenv("AZURE_CLIENT_ID"),
		AZURE_CLIENT_SECRET: os.Getenv("AZURE_CLIENT_SECRET"),
		AWS_REGION:          os.Getenv("AWS_REGION"),
	}
}

// ResolveConnectionParams resolves connection parameters using PostgreSQL-standard precedence:
//
//  1. Connection string (--connection flag, then MAILQ_CONNECTION_STRING)
//  2. DATABASE_URL, when no granular flags are given
//  3. Granular flags (-h, -p, -U, -d), then PG* environment variables
//  4. mailq.yaml connection section
//  5. Defaults (localhost:5432, prefer SSL)
//
// The -d flag overrides the database of a connection string. Cloud
// authentication comes from the flags first and mailq.yaml auth_method second;
// requesting more than one provider is an error.
//
// Returns the resolved config and the maintenance database used for
// CREATE DATABASE.
func ResolveConnectionParams(
	connString string,
	granularFlags *GranularConnFlags,
	azureFlags *AzureFlags,
	awsFlags *AWSFlags,
	googleFlags *GoogleFlags,
	certFlags *CertFlags,
	envVars *EnvVars,
	projectConfig *config.ProjectConfig,
) (*mailq.ConnectionConfig, string, error) {
	if granularFlags == nil {
		granularFlags = &GranularConnFlags{}
	}
	if azureFlags == nil {
		azureFlags = &AzureFlags{}
	}
	if awsFlags == nil {
		awsFlags = &AWSFlags{}
	}
	if googleFlags == nil {
		googleFlags = &GoogleFlags{}
	}
	if certFlags == nil {
		certFlags = &CertFlags{}
	}
	if envVars == nil {
		envVars = &EnvVars{}
	}

	if connString != "" && !granularFlags.IsEmpty() {
		return nil, "", fmt.Errorf(
			"cannot specify both --connection and granular flags (-h, -p, -U)\n" +
				"Choose one approach:\n" +
				"  1. Connection string: --connection \"postgresql://user@localhost:5432/mailq\"\n" +
				"  2. Granular flags: -h localhost -p 5432 -U myuser -d mailq\n" +
				"  3. Environment variables: export PGHOST=localhost PGPORT=5432 PGUSER=myuser")
	}

	var pc config.ConnectionConfig
	if projectConfig != nil {
		pc = projectConfig.Connection
	}

	var (
		cfg *mailq.ConnectionConfig
		err error
	)
	switch {
	case connString != "":
		cfg, err = resolveFromConnectionString(connString, envVars)
	case granularFlags.IsEmpty() && envVars.DATABASE_URL != "":
		cfg, err = resolveFromConnectionString(envVars.DATABASE_URL, envVars)
	default:
		cfg, err = resolveFromGranularParams(granularFlags, envVars, pc)
	}
	if err != nil {
		return nil, "", err
	}

	if granularFlags.Database != "" {
		cfg.Database = granularFlags.Database
	}

	applyCertificates(cfg, certFlags, envVars, pc)
	if err := applyAuthMethod(cfg, azureFlags, awsFlags, googleFlags, envVars, pc); err != nil {
		return nil, "", err
	}

	maintenanceDB := pc.ManagementDatabase
	if maintenanceDB == "" {
		maintenanceDB = mailq.DefaultManagementDB
	}
	return cfg, maintenanceDB, nil
}

func resolveFromConnectionString(connStr string, envVars *EnvVars) (*mailq.ConnectionConfig, error) {
	cfg, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w: %w", mailq.ErrInvalidConfig, err)
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = envVars.PGSSLMODE
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "prefer"
	}
	if cfg.Password == "" {
		cfg.Password = envVars.PGPASSWORD
	}
	return cfg, nil
}

// resolveFromGranularParams applies flag > environment > mailq.yaml > default
// for each parameter.
func resolveFromGranularParams(flags *GranularConnFlags, envVars *EnvVars, pc config.ConnectionConfig) (*mailq.ConnectionConfig, error) {
	cfg := &mailq.ConnectionConfig{
		AuthMethod:       mailq.AuthMethodStandard,
		AdditionalParams: make(map[string]string),
	}

	cfg.Host = firstNonEmpty(flags.Host, envVars.PGHOST, pc.Host, "localhost")

	switch {
	case flags.Port != 0:
		cfg.Port = flags.Port
	case envVars.PGPORT != "":
		port, err := strconv.Atoi(envVars.PGPORT)
		if err != nil {
			return nil, fmt.Errorf("invalid $PGPORT value '%s': must be an integer: %w", envVars.PGPORT, mailq.ErrInvalidConfig)
		}
		cfg.Port = port
	case pc.Port != 0:
		cfg.Port = pc.Port
	default:
		cfg.Port = 5432
	}

	cfg.Username = firstNonEmpty(flags.Username, envVars.PGUSER, pc.Username, os.Getenv("USER"), os.Getenv("USERNAME"))
	cfg.Password = envVars.PGPASSWORD
	cfg.Database = firstNonEmpty(flags.Database, envVars.PGDATABASE, pc.Database, "mailq")
	cfg.SSLMode = firstNonEmpty(flags.SSLMode, envVars.PGSSLMODE, pc.SSLMode, "prefer")

	return cfg, nil
}

func applyCertificates(cfg *mailq.ConnectionConfig, flags *CertFlags, env *EnvVars, pc config.ConnectionConfig) {
	cfg.SSLCert = firstNonEmpty(flags.SSLCert, cfg.SSLCert, env.PGSSLCERT, pc.SSLCert)
	cfg.SSLKey = firstNonEmpty(flags.SSLKey, cfg.SSLKey, env.PGSSLKEY, pc.SSLKey)
	cfg.SSLRootCert = firstNonEmpty(flags.SSLRootCert, cfg.SSLRootCert, env.PGSSLROOTCERT, pc.SSLRootCert)
	if cfg.SSLCert != "" && cfg.SSLKey != "" && cfg.AuthMethod == mailq.AuthMethodStandard {
		cfg.AuthMethod = mailq.AuthMethodCertificate
	}
}

func applyAuthMethod(cfg *mailq.ConnectionConfig, azure *AzureFlags, aws *AWSFlags, google *GoogleFlags, env *EnvVars, pc config.ConnectionConfig) error {
	yamlMethod := strings.ToLower(strings.TrimSpace(pc.AuthMethod))

	useAzure := azure.requested() || yamlMethod == "azure"
	useAWS := aws.Enabled || yamlMethod == "aws"
	useGoogle := google.Enabled || yamlMethod == "google"

	n := 0
	for _, on := range []bool{useAzure, useAWS, useGoogle} {
		if on {
			n++
		}
	}
	if n > 1 {
		return fmt.Errorf("only one of --azure, --aws, --google may be used: %w", mailq.ErrInvalidConfig)
	}

	switch {
	case useAzure:
		cfg.AuthMethod = mailq.AuthMethodAzureEntraID
		cfg.AzureTenantID = firstNonEmpty(azure.TenantID, env.AZURE_TENANT_ID, pc.AzureTenantID)
		cfg.AzureClientID = firstNonEmpty(azure.ClientID, env.AZURE_CLIENT_ID, pc.AzureClientID)
		cfg.AzureClientSecret = env.AZURE_CLIENT_SECRET
	case useAWS:
		cfg.AuthMethod = mailq.AuthMethodAWSIAM
		cfg.AWSRegion = firstNonEmpty(aws.Region, env.AWS_REGION, pc.AWSRegion)
		if cfg.AWSRegion == "" {
			return fmt.Errorf("AWS IAM auth requires --aws-region or $AWS_REGION: %w", mailq.ErrInvalidConfig)
		}
	case useGoogle:
		cfg.AuthMethod = mailq.AuthMethodGoogleIAM
		cfg.GoogleInstance = firstNonEmpty(google.Instance, pc.GoogleInstance)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
