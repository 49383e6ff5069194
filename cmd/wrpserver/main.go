// wrpserver serves simulated thermal cameras over the WRP protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ImprolabFIT/wrpserver/cacher"
	"github.com/ImprolabFIT/wrpserver/camera"
	"github.com/ImprolabFIT/wrpserver/camera/sim"
	"github.com/ImprolabFIT/wrpserver/config"
	"github.com/ImprolabFIT/wrpserver/device"
	"github.com/ImprolabFIT/wrpserver/logger"
	"github.com/ImprolabFIT/wrpserver/notify"
	"github.com/ImprolabFIT/wrpserver/wrp"
)

var version = "<not set>"

type Args struct {
	Config   string `arg:"-c,--config" help:"path to configuration file (yaml, toml or json)"`
	Addr     string `arg:"-a,--addr" help:"listen address, overrides server.addr"`
	LogLevel string `arg:"-l,--log-level" help:"log level, overrides log.level"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	arg.MustParse(&args)
	return args
}

func main() {
	if err := runMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMain() error {
	args := procArgs()

	conf, err := config.Load(args.Config)
	if err != nil {
		return err
	}
	if args.Addr != "" {
		conf.Server.Addr = args.Addr
	}
	if args.LogLevel != "" {
		conf.Log.Level = args.LogLevel
	}

	log, err := newLogger(conf)
	if err != nil {
		return err
	}
	defer log.Close()

	log.Info("starting", logger.Field{Key: "version", Value: version}, logger.Field{Key: "cameras", Value: len(conf.Simulator.Cameras)})

	static, err := newDirectory(conf.Simulator.Cameras)
	if err != nil {
		return err
	}

	cache, closeCache, err := newListingCache(conf.Directory)
	if err != nil {
		return err
	}
	defer closeCache()
	directory := device.NewCachedDirectory(static, cache, conf.Directory.CacheTTL)

	notifier, err := newNotifier(conf)
	if err != nil {
		return err
	}
	defer notifier.Close()

	srv, err := wrp.NewServer(wrp.Config{
		Name:      conf.Server.Name,
		Addr:      conf.Server.Addr,
		Options:   options(conf),
		Directory: directory,
		Notifier:  notifier,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for sig := range signals {
		if sig != syscall.SIGHUP {
			log.Info("shutting down", logger.Field{Key: "signal", Value: sig.String()})
			break
		}

		if err := logger.Rotate(log); err != nil {
			log.Error("log rotation failed", logger.Field{Key: "error", Value: err.Error()})
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := directory.Invalidate(ctx); err != nil {
			log.Warn("camera list invalidation failed", logger.Field{Key: "error", Value: err.Error()})
		}
		cancel()
		log.Info("reloaded")
	}

	srv.Stop()
	return nil
}

func newLogger(conf config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(conf.Log.Level)
	if err != nil {
		return nil, err
	}

	if conf.Log.Dir != "" {
		return logger.NewZerologFileLogger(conf.Server.Name, conf.Log.Dir, level)
	}

	return logger.NewZerologLogger(zerolog.New(os.Stdout), conf.Server.Name, level), nil
}

func newDirectory(cams []config.SimCamera) (*device.StaticDirectory, error) {
	caps := make([]camera.Capability, 0, len(cams))
	for _, c := range cams {
		caps = append(caps, sim.New(camera.Info{
			SerialNumber:     c.Serial,
			ModelName:        c.Model,
			VendorName:       c.Vendor,
			ManufacturerInfo: c.Manufacturer,
			Version:          c.Version,
			Width:            c.Width,
			Height:           c.Height,
			MaxFPS:           c.FPS,
		}))
	}

	return device.NewStaticDirectory(caps...)
}

// newListingCache shares the listing through Redis when configured and
// keeps it in process otherwise.
func newListingCache(conf config.DirectoryConfig) (cacher.Cacher[string], func(), error) {
	if conf.RedisAddr == "" {
		return cacher.NewMemoryCacher[string](time.Minute), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: conf.RedisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s unreachable: %w", conf.RedisAddr, err)
	}

	return cacher.NewRedisCacher[string](client, "wrp:directory"), func() { _ = client.Close() }, nil
}

func newNotifier(conf config.Config) (notify.Publisher, error) {
	if conf.Notify.NATSURL == "" {
		return notify.NewNop(), nil
	}

	pub, err := notify.ConnectNATS(conf.Notify.NATSURL, conf.Notify.SubjectPrefix, conf.Server.Name)
	if err != nil {
		return nil, err
	}

	return pub, nil
}

func options(conf config.Config) wrp.Options {
	return wrp.Options{
		OutputBufferSize:       conf.Server.OutputBufferSize,
		PayloadTimeout:         conf.Server.PayloadTimeout,
		IdleTimeout:            conf.Server.IdleTimeout,
		WriteTimeout:           conf.Server.WriteTimeout,
		RequestTimeout:         conf.Camera.RequestTimeout,
		FrameTimeout:           conf.Camera.FrameTimeout,
		MaxConsecutiveTimeouts: conf.Grab.MaxConsecutiveTimeouts,
		AckWindow:              conf.Grab.AckWindow,
	}
}
