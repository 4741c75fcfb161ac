package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dungeonlist/dungeonbot/bot"
	"github.com/dungeonlist/dungeonbot/bridge"
	"github.com/dungeonlist/dungeonbot/bridge/discord"
	"github.com/dungeonlist/dungeonbot/bridge/slack"
	"github.com/dungeonlist/dungeonbot/config"
	"github.com/dungeonlist/dungeonbot/journal"
	"github.com/dungeonlist/dungeonbot/queue"
	"github.com/fsnotify/fsnotify"
	"github.com/google/gops/agent"
	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
)

var (
	version = "0.1.0"
	githash string

	logger *logrus.Entry
)

func main() {
	ourlog := logrus.New()
	ourlog.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 16,
		FullTimestamp: true,
	})
	logger = ourlog.WithFields(logrus.Fields{"prefix": "main"})

	flagConfig := flag.String("conf", "dungeonbot.toml", "config file")
	flagDebug := flag.Bool("debug", false, "enable debug logging")
	flagTrace := flag.Bool("trace", false, "enable trace logging")
	flagVersion := flag.Bool("version", false, "show version")
	flagGops := flag.Bool("gops", false, "enable gops agent")
	flag.Parse()

	if *flagVersion {
		fmt.Printf("version: %s %s\n", version, githash)
		return
	}

	if *flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Errorf("failed to start gops agent: %#v", err)
		}
		defer agent.Close()
	}

	cfgfile := *flagConfig
	if !flag.CommandLine.Changed("conf") {
		// the default config file is optional, the environment may be enough
		if _, err := os.Stat(cfgfile); err != nil {
			cfgfile = ""
		}
	}

	v, err := config.LoadConfig(cfgfile)
	if err != nil {
		logger.Fatalf("could not load config: %s", err)
	}

	if *flagDebug {
		v.Set("Debug", true)
	}
	if *flagTrace {
		v.Set("Trace", true)
	}

	ourlog.SetLevel(config.LogLevel(v))
	v.OnConfigChange(func(e fsnotify.Event) {
		ourlog.SetLevel(config.LogLevel(v))
		logger.Infof("config file %s changed, log level is %s", e.Name, ourlog.GetLevel())
	})

	config.Logger = ourlog.WithFields(logrus.Fields{"prefix": "config"})
	queue.SetLogger(ourlog.WithFields(logrus.Fields{"prefix": "queue"}))
	journal.SetLogger(ourlog.WithFields(logrus.Fields{"prefix": "journal"}))
	bot.SetLogger(ourlog.WithFields(logrus.Fields{"prefix": "bot"}))

	logger.Infof("dungeonbot %s %s starting", version, githash)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Debugf)); err != nil {
		logger.Errorf("could not set GOMAXPROCS: %s", err)
	}

	if err := config.Validate(v); err != nil {
		logger.Fatal(err)
	}

	rooms, err := config.Rooms(v)
	if err != nil {
		logger.Fatal(err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry, err := queue.NewRegistry(rooms, queue.WithPromRegistry(promReg))
	if err != nil {
		logger.Fatalf("bad rooms: %s", err)
	}

	for _, st := range registry.Rooms() {
		r := st.Room()
		logger.Infof("room %s bound to channel %s (capacity %d)", r.Name, r.ChannelID, r.Capacity)
	}

	// a nil *journal.Store would not be a nil bot.Journal
	var j bot.Journal
	if path := v.GetString("journal.Path"); path != "" {
		store, err := journal.Open(path, v.GetInt("journal.MaxEntries"))
		if err != nil {
			logger.Fatalf("could not open journal: %s", err)
		}
		defer store.Close()
		j = store
	}

	eventChan := make(chan *bridge.Event, 1000)

	br, err := newBridge(v, eventChan)
	if err != nil {
		logger.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := br.Connect(ctx); err != nil {
		logger.Fatal(err)
	}
	defer br.Close()

	b := bot.New(v, br, registry, j, eventChan)
	scheduler := queue.NewScheduler(registry, b, v.GetDuration("PromotionInterval"),
		queue.WithNotifyTimeout(v.GetDuration("NotifyTimeout")),
		queue.WithNotifyWorkers(v.GetInt("NotifyWorkers")),
	)

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(b.Run)
	p.Go(scheduler.Run)
	if addr := v.GetString("metrics.Listen"); addr != "" {
		p.Go(func(ctx context.Context) error {
			return serveMetrics(ctx, v, addr, promReg)
		})
	}

	err = p.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("stopped: %s", err)
		return
	}

	logger.Info("shutting down")
}

func newBridge(v *viper.Viper, eventChan chan *bridge.Event) (bridge.Bridger, error) {
	switch platform := strings.ToLower(v.GetString("Platform")); platform {
	case "discord":
		return discord.New(v, v.GetString("discord.Token"), bot.Aliases(), eventChan)
	case "slack":
		return slack.New(v, v.GetString("slack.Token"), v.GetString("slack.AppToken"), eventChan)
	default:
		return nil, fmt.Errorf("%w %q", config.ErrUnknownPlatform, platform)
	}
}
