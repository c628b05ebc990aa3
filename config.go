package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind             string
	cardSize         int
	emptyRoomTimeout time.Duration
	playerTimeout    time.Duration
	port             int
	prefix           string
	profile          bool
	revealDelay      time.Duration
	roundDuration    time.Duration
	sessionTimeout   time.Duration
	symbols          string
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.cardSize < 2 {
		return fmt.Errorf("invalid card size (must be at least 2): %d", c.cardSize)
	}
	if c.roundDuration <= 0 {
		return fmt.Errorf("invalid round duration (must be positive): %s", c.roundDuration)
	}
	if c.revealDelay < 0 || c.playerTimeout < 0 || c.emptyRoomTimeout < 0 || c.sessionTimeout < 0 {
		return errors.New("timeouts and delays must not be negative")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SPOTBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "spotbox",
		Short:         "Spot the one symbol two cards share, against a friend or the clock.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SPOTBOX_BIND)")
	fs.IntVar(&cfg.cardSize, "card-size", 8, "symbols printed on each card (env: SPOTBOX_CARD_SIZE)")
	fs.DurationVar(&cfg.emptyRoomTimeout, "empty-room-timeout", 5*time.Minute, "time before rooms with nobody connected are closed (env: SPOTBOX_EMPTY_ROOM_TIMEOUT)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 10*time.Second, "time a disconnected player keeps their seat (env: SPOTBOX_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SPOTBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SPOTBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SPOTBOX_PROFILE)")
	fs.DurationVar(&cfg.revealDelay, "reveal-delay", 3*time.Second, "pause after a match is found before the next round (env: SPOTBOX_REVEAL_DELAY)")
	fs.DurationVar(&cfg.roundDuration, "round-duration", 15*time.Second, "time allowed to find each match (env: SPOTBOX_ROUND_DURATION)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are closed (env: SPOTBOX_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.symbols, "symbols", "", "symbol list, one per line or a .toml pack; bundled list if unset (env: SPOTBOX_SYMBOLS)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SPOTBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SPOTBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SPOTBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SPOTBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("spotbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
