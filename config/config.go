package config

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/dungeonlist/dungeonbot/journal"
	"github.com/dungeonlist/dungeonbot/queue"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var Logger = logrus.NewEntry(logrus.StandardLogger())

var (
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrNoToken         = errors.New("no token configured")
)

// defaultRooms are used when the config has no [[rooms]].
var defaultRooms = []queue.Room{
	{Name: "IMD", ChannelID: "1445085686112845885", Capacity: 20},
	{Name: "NightSky", ChannelID: "1430611404204806174", Capacity: 8},
}

func LoadConfig(cfgfile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("Platform", "discord")
	v.SetDefault("PromotionInterval", queue.DefaultPromotionInterval)
	v.SetDefault("NotifyTimeout", queue.DefaultNotifyTimeout)
	v.SetDefault("NotifyWorkers", queue.DefaultNotifyWorkers)
	v.SetDefault("journal.MaxEntries", journal.DefaultMaxEntries)
	v.SetDefault("discord.RegisterCommands", true)

	v.SetEnvPrefix("dungeonbot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	// use environment variables
	v.AutomaticEnv()
	// DISCORD_TOKEN is what the first version of the bot read
	if err := v.BindEnv("discord.Token", "DUNGEONBOT_DISCORD_TOKEN", "DISCORD_TOKEN"); err != nil {
		return nil, err
	}

	if cfgfile == "" {
		return v, nil
	}

	v.SetConfigFile(cfgfile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s", err)
	}

	// reload config on file changes
	if runtime.GOOS != "illumos" {
		v.WatchConfig()
	}

	return v, nil
}

// Rooms decodes the [[rooms]] tables. Unknown keys in a room are an error
// so a typo like ChanelID doesn't silently leave a room unbound.
func Rooms(v *viper.Viper) ([]queue.Room, error) {
	if !v.IsSet("rooms") {
		Logger.Infof("no rooms configured, using the default rooms")
		return slices.Clone(defaultRooms), nil
	}

	var rooms []queue.Room

	err := v.UnmarshalKey("rooms", &rooms, func(c *mapstructure.DecoderConfig) {
		c.ErrorUnused = true
	})
	if err != nil {
		return nil, fmt.Errorf("decoding rooms: %w", err)
	}

	return rooms, nil
}

// Validate checks that the selected platform has its credentials.
func Validate(v *viper.Viper) error {
	switch platform := strings.ToLower(v.GetString("Platform")); platform {
	case "discord":
		if v.GetString("discord.Token") == "" {
			return fmt.Errorf("discord: %w (discord.Token or DISCORD_TOKEN)", ErrNoToken)
		}
	case "slack":
		if v.GetString("slack.Token") == "" || v.GetString("slack.AppToken") == "" {
			return fmt.Errorf("slack: %w (slack.Token and slack.AppToken)", ErrNoToken)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownPlatform, platform)
	}

	return nil
}

// LogLevel returns the level selected by the Trace and Debug keys.
func LogLevel(v *viper.Viper) logrus.Level {
	switch {
	case v.GetBool("Trace"):
		return logrus.TraceLevel
	case v.GetBool("Debug"):
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}
