package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	octobooks "github.com/always-cache/octo-books"
	"github.com/always-cache/octo-books/cache"
	"github.com/always-cache/octo-books/classify"
	"github.com/always-cache/octo-books/config"
	"github.com/always-cache/octo-books/push"
	"github.com/always-cache/octo-books/worker"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag    string
	portFlag              int
	originFlag            string
	hostFlag              string
	providerFlag          string
	dbFilenameFlag        string
	pushDBFilenameFlag    string
	verbosityTraceFlag    bool
	logFilenameFlag       string
	generateVapidKeysFlag bool

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Catalog origin URL (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&providerFlag, "provider", "", "Caching provider to use: sqlite, bolt or memory (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (overrides config)")
	flag.StringVar(&pushDBFilenameFlag, "push-db", "", "Subscription DB file name, 'memory' for in-memory db (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
	flag.BoolVar(&generateVapidKeysFlag, "generate-vapid-keys", false, "Print a new VAPID key pair and exit")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	if generateVapidKeysFlag {
		keys, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", keys.PublicKey, keys.PrivateKey)
		return
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	conf, err := config.Load(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	applyFlags(&conf)
	if err := conf.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	provider, err := newCacheProvider(conf.Cache)
	if err != nil {
		log.Fatal().Err(err).Str("provider", conf.Cache.Provider).Msg("Could not open cache")
	}
	defer provider.Close()

	originURL, err := conf.OriginURL()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse url")
	}
	var classifier *classify.Classifier
	if len(conf.Cache.ImagePrefixes) > 0 {
		classifier = &classify.Classifier{ImagePrefixes: conf.Cache.ImagePrefixes}
	}
	octo, err := octobooks.CreateCache(octobooks.Config{
		Cache:        provider,
		CacheName:    conf.Cache.Name,
		CacheVersion: conf.Cache.Version,
		Fetcher:      octobooks.NewOriginFetcher(*originURL, conf.OriginHost),
		Classifier:   classifier,
		Headers:      conf.Cache.Headers,
		Logger:       &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache")
	}

	registry, err := newRegistry(conf.Push.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open subscription db")
	}
	defer registry.Close()

	var sender push.Sender = disabledSender{}
	if conf.PushEnabled() {
		sender = push.NewWebPushSender(push.VAPIDKeys{
			PublicKey:  conf.Push.VAPIDPublicKey,
			PrivateKey: conf.Push.VAPIDPrivateKey,
		}, conf.Push.VAPIDSubject, conf.Push.TTL, nil)
	} else {
		log.Warn().Msg("No VAPID keys configured, push notifications are disabled")
	}
	if conf.Push.Password == "" {
		log.Warn().Msg("No notification password configured, every notify request will be rejected")
	}
	dispatcher := push.NewDispatcher(push.DispatcherConfig{
		Registry: registry,
		Sender:   sender,
		Password: conf.Push.Password,
		Icon:     conf.Push.Icon,
		Badge:    conf.Push.Badge,
		Logger:   &log.Logger,
	})

	w := worker.New(worker.Config{
		Cache:    octo,
		Precache: conf.Cache.Precache,
		Logger:   &log.Logger,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := w.Start(ctx); err != nil {
		// the cache still works, only the app shell is not available offline yet
		log.Error().Err(err).Msg("Could not start worker")
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Handled request")
	}))
	r.Mount("/api/push", push.NewAPI(registry, dispatcher, conf.Push.VAPIDPublicKey).Routes())
	r.Handle("/*", w)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: r,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Serving port %v from %s (cache %s-%s)", conf.Port, originURL.String(), conf.Cache.Name, conf.Cache.Version)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	// let background revalidations finish writing before the cache is closed
	octo.Wait()
	log.Info().Msg("Stopped")
}

func applyFlags(conf *config.Config) {
	if originFlag != "" {
		conf.Origin = originFlag
	}
	if hostFlag != "" {
		conf.OriginHost = hostFlag
	}
	if portFlag != 0 {
		conf.Port = portFlag
	}
	if providerFlag != "" {
		conf.Cache.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		conf.Cache.DB = dbFilenameFlag
	}
	if pushDBFilenameFlag != "" {
		conf.Push.DB = pushDBFilenameFlag
	}
}

func newCacheProvider(conf config.CacheConfig) (cache.CacheProvider, error) {
	switch conf.Provider {
	case "sqlite":
		if conf.DB == "memory" {
			return cache.NewSQLiteCache("")
		}
		return cache.NewSQLiteCache(conf.DB)
	case "bolt":
		return cache.NewBoltCache(conf.DB)
	case "memory":
		return cache.NewMemCache(), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", conf.Provider)
	}
}

func newRegistry(filename string) (push.Registry, error) {
	if filename == "memory" {
		return push.NewMemRegistry(), nil
	}
	return push.NewSQLiteRegistry(filename)
}

// disabledSender fails every delivery while no VAPID keys are configured.
type disabledSender struct{}

func (disabledSender) Send(ctx context.Context, sub push.Subscription, payload []byte) error {
	return fmt.Errorf("%w: no vapid keys configured", push.ErrEndpointTransient)
}
