// Package config loads lnhostd's process-wide configuration: network
// parameters, the shared bitcoind RPC connection, the gRPC listen
// address, and the tenant listen-port range AdminService draws from.
// The retrieved teacher snapshot calls loadConfig from lndMain but does
// not carry its own config.go, so this file is grounded on go.mod's
// jessevdk/go-flags dependency and lnd.go's calling convention rather
// than a surviving teacher source file.
package config

import (
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
	"github.com/lnhostd/lnhost/internal/admin"
	"github.com/lnhostd/lnhost/internal/chainbackend"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

const (
	defaultDataDir  = "lnhostd"
	defaultPortMin  = 9736
	defaultPortMax  = 9835
	defaultLogLevel = "info"
)

// Config is lnhostd's fully resolved, validated configuration.
type Config struct {
	DataDir string `long:"datadir" description:"directory tenant wallet/monitor state is written under"`
	Network string `long:"network" description:"mainnet, testnet, or regtest" default:"regtest"`

	GRPCListen string `long:"grpclisten" description:"host:port the admin/tenant gRPC server listens on"`
	HTTPListen string `long:"httplisten" description:"host:port the AdminService JSON control surface listens on"`

	BitcoindHost string `long:"bitcoind.host" description:"bitcoind RPC host:port"`
	BitcoindUser string `long:"bitcoind.rpcuser"`
	BitcoindPass string `long:"bitcoind.rpcpass"`
	BitcoindCert string `long:"bitcoind.rpccert" description:"path to bitcoind's RPC TLS cert, empty for an unencrypted connection"`

	PostgresHost     string `long:"postgres.host" default:"localhost"`
	PostgresPort     string `long:"postgres.port" default:"5432"`
	PostgresUser     string `long:"postgres.user"`
	PostgresPassword string `long:"postgres.password"`
	PostgresDBName   string `long:"postgres.dbname" default:"lnhostd"`
	PostgresSSLMode  string `long:"postgres.sslmode" default:"disable"`

	PortMin int `long:"portmin" description:"first listen port AdminService may assign to a Default tenant"`
	PortMax int `long:"portmax" description:"last listen port AdminService may assign to a Default tenant"`

	LogDir   string `long:"logdir"`
	LogLevel string `long:"debuglevel" default:"info"`
}

// Database converts the flat Postgres flags into database.Config.
func (c *Config) Database() database.Config {
	return database.Config{
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPassword,
		DBName:   c.PostgresDBName,
		SSLMode:  c.PostgresSSLMode,
	}
}

// ChainBackend converts the flat bitcoind flags into chainbackend.Config.
func (c *Config) ChainBackend() chainbackend.Config {
	var cert []byte
	if c.BitcoindCert != "" {
		raw, err := os.ReadFile(c.BitcoindCert)
		if err == nil {
			cert = raw
		}
	}
	return chainbackend.Config{
		Host: c.BitcoindHost,
		User: c.BitcoindUser,
		Pass: c.BitcoindPass,
		Cert: cert,
	}
}

// Admin converts the flat fields into admin.Config, minus Factories which
// cmd/lnhostd supplies from the protocol library it links in.
func (c *Config) Admin() admin.Config {
	return admin.Config{
		DataDir: c.DataDir,
		Network: database.Network(c.Network),
		PortMin: c.PortMin,
		PortMax: c.PortMax,
	}
}

func defaultConfig() Config {
	return Config{
		DataDir:    defaultDataDir,
		Network:    "regtest",
		GRPCListen: "localhost:10009",
		HTTPListen: "localhost:8080",
		PortMin:    defaultPortMin,
		PortMax:    defaultPortMax,
		LogDir:     filepath.Join(defaultDataDir, "logs"),
		LogLevel:   defaultLogLevel,
	}
}

// Load parses command-line flags over top of the documented defaults
// and validates the result. Following lnd.go's own loadConfig calling
// convention, a parse or validation failure is fatal to process start.
func Load() (*Config, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "parse command line")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch database.Network(c.Network) {
	case database.NetworkMainnet, database.NetworkTestnet, database.NetworkRegtest:
	default:
		return lnerrors.New(lnerrors.KindConfiguration, "unknown network %q", c.Network)
	}
	if c.PortMin <= 0 || c.PortMax < c.PortMin {
		return lnerrors.New(lnerrors.KindConfiguration, "invalid port range [%d, %d]", c.PortMin, c.PortMax)
	}
	if c.BitcoindHost == "" {
		return lnerrors.New(lnerrors.KindConfiguration, "bitcoind.host is required")
	}
	if c.PostgresUser == "" {
		return lnerrors.New(lnerrors.KindConfiguration, "postgres.user is required")
	}
	return nil
}
