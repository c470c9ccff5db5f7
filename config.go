package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/oddoneout/internal/quiz"
	"github.com/Seednode/oddoneout/internal/tui"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	port           int
	prefix         string
	profile        bool
	rounds         string
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.sessionTimeout <= 0 {
		return fmt.Errorf("invalid session timeout (must be positive): %s", c.sessionTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// loadRounds reads the round catalogue, falling back to the built-in one, and
// refuses catalogues that leave any round undefined.
func (c *Config) loadRounds() (quiz.Rounds, error) {
	var (
		rounds quiz.Rounds
		err    error
	)

	if c.rounds != "" {
		rounds, err = quiz.LoadRoundsFile(c.rounds)
	} else {
		rounds, err = quiz.DefaultRounds()
	}
	if err != nil {
		return nil, fmt.Errorf("loading rounds: %w", err)
	}

	if err := rounds.Validate(quiz.MaxRound); err != nil {
		return nil, fmt.Errorf("loading rounds: %w", err)
	}

	return rounds, nil
}

// bindEnv lets ODDONEOUT_* environment variables stand in for unset flags.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newPlayCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Play the quiz in the terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			rounds, err := cfg.loadRounds()
			if err != nil {
				return err
			}
			return tui.Run(rounds)
		},
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ODDONEOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "oddoneout",
		Short:         "Spot the odd picture out before the timer runs dry.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			rounds, err := cfg.loadRounds()
			if err != nil {
				return err
			}

			return ServePage(cmd.Context(), cfg, rounds)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&cfg.rounds, "rounds", "", "path to a YAML round catalogue, instead of the built-in one (env: ODDONEOUT_ROUNDS)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: ODDONEOUT_VERBOSE)")

	fs := cmd.Flags()
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: ODDONEOUT_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: ODDONEOUT_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: ODDONEOUT_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: ODDONEOUT_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 30*time.Minute, "time before idle quiz sessions are ended (env: ODDONEOUT_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: ODDONEOUT_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: ODDONEOUT_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: ODDONEOUT_VERSION)")

	bindEnv(v, pfs)
	bindEnv(v, fs)

	cmd.AddCommand(newPlayCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("oddoneout v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
