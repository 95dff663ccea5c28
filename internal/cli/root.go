// Package cli implements the apiclient command line.
package cli

import (
	"errors"
	"os"

	"github.com/AmmannChristian/go-apiclient/httpclient"
	"github.com/AmmannChristian/go-apiclient/internal/config"
	"github.com/AmmannChristian/go-apiclient/metrics"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes returned by ExitCode.
const (
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (invalid flags, configuration, transport failure).
	ExitCodeError = 1
	// ExitCodeResponseError indicates the API answered with a non-2xx status.
	ExitCodeResponseError = 2
	// ExitCodeAuthFailed indicates the request was rejected as unauthorized or no token could be obtained.
	ExitCodeAuthFailed = 3
)

// rootOptions holds the persistent flags and the state prepared before every subcommand.
type rootOptions struct {
	configPath string
	flagValues config.Config
	stats      bool
	lookupEnv  func(string) (string, bool)

	cfg      config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry
	metrics  *metrics.Recorder
}

// NewRootCommand creates the apiclient root command with all subcommands.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(version, os.LookupEnv)
}

func newRootCommand(version string, lookupEnv func(string) (string, bool)) *cobra.Command {
	opts := &rootOptions{lookupEnv: lookupEnv}

	cmd := &cobra.Command{
		Use:   "apiclient",
		Short: "Send authenticated requests to an HTTP API",
		Long: `apiclient sends requests to an HTTP API and authenticates them with a static
bearer token or with tokens obtained through the OAuth2 client credentials flow.

Settings are read from a YAML file (--config), then from APICLIENT_* environment
variables, then from flags. A request rejected with 401 is retried once with a
freshly obtained token.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.prepare(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.stats && opts.registry != nil {
				return writeStats(cmd.ErrOrStderr(), opts.registry)
			}
			return nil
		},
	}
	cmd.SetVersionTemplate(`{{printf "apiclient version %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	flags.StringVar(&opts.flagValues.BaseURL, "base-url", "", "base URL every request path is appended to")
	flags.StringVar(&opts.flagValues.Token, "token", "", "static bearer token")
	flags.StringVar(&opts.flagValues.ClientID, "client-id", "", "OAuth2 client identifier")
	flags.StringVar(&opts.flagValues.ClientSecret, "client-secret", "", "OAuth2 client secret")
	flags.StringVar(&opts.flagValues.TokenURL, "token-url", "", "OAuth2 token endpoint")
	flags.StringVar(&opts.flagValues.Scopes, "scopes", "", "space separated OAuth2 scopes")
	flags.DurationVar(&opts.flagValues.MaxTokenTTL, "max-token-ttl", 0, "upper bound for how long a token is cached")
	flags.DurationVar(&opts.flagValues.Timeout, "timeout", 0, "request timeout")
	flags.StringVar(&opts.flagValues.Cache.Backend, "cache", "", "token cache backend: memory, null or redis")
	flags.StringVar(&opts.flagValues.Cache.Redis.Addr, "redis-addr", "", "Redis address for the redis cache backend")
	flags.StringVar(&opts.flagValues.TLS.CAFile, "ca-file", "", "CA certificate used to verify servers")
	flags.StringVar(&opts.flagValues.TLS.CertFile, "cert-file", "", "client certificate for mTLS")
	flags.StringVar(&opts.flagValues.TLS.KeyFile, "key-file", "", "client key for mTLS")
	flags.BoolVar(&opts.flagValues.TLS.InsecureSkipVerify, "insecure", false, "skip TLS certificate verification")
	flags.StringVar(&opts.flagValues.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.stats, "stats", false, "print request and token counters to stderr when done")

	for _, method := range requestMethods {
		cmd.AddCommand(newRequestCommand(opts, method))
	}
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}

// prepare loads the configuration, applies changed flags and sets up logging and metrics.
func (o *rootOptions) prepare(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath, o.lookupEnv)
	if err != nil {
		return err
	}
	o.applyFlags(cmd.Flags().Changed, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	o.logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	o.registry = prometheus.NewRegistry()
	o.metrics = metrics.NewRecorder(o.registry)
	return nil
}

// applyFlags copies the flags set on the command line over cfg.
func (o *rootOptions) applyFlags(changed func(name string) bool, cfg *config.Config) {
	v := o.flagValues
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}

	set("base-url", func() { cfg.BaseURL = v.BaseURL })
	set("token", func() { cfg.Token = v.Token })
	set("client-id", func() { cfg.ClientID = v.ClientID })
	set("client-secret", func() { cfg.ClientSecret = v.ClientSecret })
	set("token-url", func() { cfg.TokenURL = v.TokenURL })
	set("scopes", func() { cfg.Scopes = v.Scopes })
	set("max-token-ttl", func() { cfg.MaxTokenTTL = v.MaxTokenTTL })
	set("timeout", func() { cfg.Timeout = v.Timeout })
	set("cache", func() { cfg.Cache.Backend = v.Cache.Backend })
	set("redis-addr", func() { cfg.Cache.Redis.Addr = v.Cache.Redis.Addr })
	set("ca-file", func() { cfg.TLS.CAFile = v.TLS.CAFile })
	set("cert-file", func() { cfg.TLS.CertFile = v.TLS.CertFile })
	set("key-file", func() { cfg.TLS.KeyFile = v.TLS.KeyFile })
	set("insecure", func() { cfg.TLS.InsecureSkipVerify = v.TLS.InsecureSkipVerify })
	set("log-level", func() { cfg.LogLevel = v.LogLevel })
}

// Execute runs the apiclient command line with os.Args.
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	if errors.Is(err, httpclient.ErrUnauthorized) || errors.Is(err, httpclient.ErrForbidden) {
		return ExitCodeAuthFailed
	}
	if _, ok := httpclient.AsResponseError(err); ok {
		return ExitCodeResponseError
	}

	var ge *goerrors.Error
	if goerrors.As(err, &ge) && ge.TextCode == oauth2client.TextCodeTokenExchangeFailed {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}
