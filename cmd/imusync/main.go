package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/imusync/internal/api"
	"github.com/banshee-data/imusync/internal/config"
	"github.com/banshee-data/imusync/internal/db"
	"github.com/banshee-data/imusync/internal/imusim"
	"github.com/banshee-data/imusync/internal/ingest"
	"github.com/banshee-data/imusync/internal/monitoring"
	"github.com/banshee-data/imusync/internal/provider"
	"github.com/banshee-data/imusync/internal/serialmux"
	"github.com/banshee-data/imusync/internal/stage"
	"github.com/banshee-data/imusync/internal/timesync"
	"github.com/banshee-data/imusync/internal/timeutil"
	"github.com/banshee-data/imusync/internal/version"
)

// options are the parsed command line flags.
type options struct {
	configPath  string
	port        string
	dev         bool
	simOffset   time.Duration
	listen      string
	dbPath      string
	verbosity   int
	showVersion bool
}

// sequentialPoll is how often a sequential run drains the frame queue.
const sequentialPoll = 5 * time.Millisecond

// lineBuffer absorbs short stalls of the router without losing device lines.
const lineBuffer = 1024

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.configPath, "config", config.DefaultConfigPath, "Path to the JSON sync configuration (empty for built-in defaults)")
	fs.StringVar(&o.port, "port", "/dev/ttyACM0", "Serial port of the IMU/trigger board (ignored in dev mode)")
	fs.BoolVar(&o.dev, "dev", false, "Run against the built-in device simulator")
	fs.DurationVar(&o.simOffset, "sim-imu-offset", 0, "IMU clock offset emulated by the simulator in dev mode")
	fs.StringVar(&o.listen, "listen", ":8080", "Listen address")
	fs.StringVar(&o.dbPath, "db", "imusync.db", "SQLite database path (empty disables recording)")
	fs.IntVar(&o.verbosity, "v", 0, "Debug log verbosity")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.listen == "" {
		return o, errors.New("listen address is required")
	}
	if !o.dev && o.port == "" {
		return o, errors.New("serial port is required")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if opts.showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, nil); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.SyncConfig, error) {
	if path == "" {
		return &config.SyncConfig{}, nil
	}
	return config.LoadSyncConfig(path)
}

// run wires the pipeline and blocks until ctx is done or a component fails.
// ready, if non-nil, receives the bound HTTP address once serving.
func run(ctx context.Context, opts options, ready chan<- string) error {
	monitoring.SetVerbosity(opts.verbosity)
	log.Printf("starting %s", version.String())

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var (
		device  serialmux.SerialMuxInterface
		sim     *imusim.Simulator
		simPipe *io.PipeWriter
	)
	source := opts.port
	if opts.dev {
		source = "imusim"
		sim, err = imusim.New(imusim.Config{
			IMURateHz:      int(cfg.GetIMURateHz()),
			CameraRateHz:   cfg.GetCameraRateHz(),
			IMUClockOffset: opts.simOffset,
			StatusEvery:    time.Second,
		}, timeutil.RealClock{})
		if err != nil {
			return err
		}
		var pr *io.PipeReader
		pr, simPipe = io.Pipe()
		device = serialmux.NewMockSerialMux(pr)
	} else {
		device, err = serialmux.NewRealSerialMux(cfg.PortOptions(opts.port))
		if err != nil {
			return fmt.Errorf("failed to open device: %w", err)
		}
	}
	defer device.Close()

	if err := device.Initialize(serialmux.DeviceSettings{
		IMURateHz:    int(cfg.GetIMURateHz()),
		CameraRateHz: cfg.GetCameraRateHz(),
	}); err != nil {
		return fmt.Errorf("failed to initialize device: %w", err)
	}

	var (
		store   *db.DB
		session db.Session
	)
	if opts.dbPath != "" {
		store, err = db.NewDB(opts.dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()
		session, err = store.StartSession(db.Session{
			Source:            source,
			IMURateHz:         cfg.GetIMURateHz(),
			CoarseCorrection:  cfg.GetDoCoarseTimestampCorrection(),
			InitialShiftNanos: cfg.GetInitialTimeShift(),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := store.EndSession(session.ID, time.Now()); err != nil {
				log.Printf("failed to end session: %v", err)
			}
		}()
		log.Printf("recording session %s to %s", session.ID, opts.dbPath)
	}

	packets := stage.NewQueue[provider.Packet]("packets", 0)
	module := provider.New(provider.Config{
		IMURateHz:                 cfg.GetIMURateHz(),
		CoarseTimestampCorrection: cfg.GetDoCoarseTimestampCorrection(),
		InitialTimeShift:          cfg.GetInitialTimeShift(),
		BufferCapacity:            cfg.GetIMUBufferCapacity(),
		FrameQueueCapacity:        cfg.GetFrameQueueCapacity(),
		Parallel:                  cfg.GetParallelRun(),
	}, packets)
	if store != nil {
		module.SetDropObserver(provider.DropObserverFunc(func(f provider.Frame, status timesync.Status) {
			if err := store.RecordDrop(session.ID, db.DropRecord{FrameID: f.ID, FrameTs: f.Timestamp, Status: status.String()}); err != nil {
				log.Printf("failed to record drop: %v", err)
			}
		}))
	}
	router := ingest.NewRouter(module)

	// HTTP server
	apiOpts := api.Options{Lines: router, Commander: device, SessionID: session.ID}
	if store != nil {
		apiOpts.Store = store
	}
	mux := api.NewServer(module, apiOpts).ServeMux()
	device.AttachAdminRoutes(mux)
	if store != nil {
		if err := store.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	listener, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.listen, err)
	}
	server := &http.Server{Handler: api.LoggingMiddleware(mux)}

	g, ctx := errgroup.WithContext(ctx)

	if sim != nil {
		g.Go(func() error {
			err := sim.Run(ctx, simPipe)
			simPipe.CloseWithError(err)
			if ctx.Err() != nil {
				// the device is closed on shutdown, failing the last write
				return nil
			}
			return err
		})
	}

	lineID, lines := device.SubscribeBuffered(lineBuffer)

	// serial monitor
	g.Go(func() error {
		err := device.Monitor(ctx)
		log.Print("monitor routine terminated")
		if ctx.Err() != nil {
			// closing the port on shutdown may surface as a read error
			return nil
		}
		return err
	})

	// device lines into the provider
	g.Go(func() error {
		defer device.Unsubscribe(lineID)
		return ignoreCanceled(router.Run(ctx, lines))
	})

	// frame synchronisation
	g.Go(func() error {
		if cfg.GetParallelRun() {
			return ignoreCanceled(module.Run(ctx))
		}
		return driveSequential(ctx, module, timeutil.RealClock{})
	})

	// packet consumer
	g.Go(func() error {
		for {
			p, ok := packets.PopBlocking()
			if !ok {
				return nil
			}
			monitoring.Debugf(1, "frame %d at %d: %d imu samples [%d, %d]",
				p.Frame.ID, p.Frame.Timestamp, len(p.IMU), p.IMU.Start(), p.IMU.End())
			if store == nil {
				continue
			}
			if err := store.RecordPacket(session.ID, db.PacketRecord{
				FrameID:     p.Frame.ID,
				FrameTs:     p.Frame.Timestamp,
				WindowStart: p.IMU.Start(),
				WindowEnd:   p.IMU.End(),
				SampleCount: len(p.IMU),
			}); err != nil {
				log.Printf("failed to record packet: %v", err)
			}
		}
	})

	// shutdown coordinator
	g.Go(func() error {
		<-ctx.Done()
		log.Printf("shutting down data provider...")
		module.Shutdown()
		packets.Shutdown()
		return device.Close()
	})

	g.Go(func() error {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		return nil
	})
	log.Printf("listening on %s", listener.Addr())
	if ready != nil {
		ready <- listener.Addr().String()
	}

	return g.Wait()
}

// driveSequential processes queued frames on a single goroutine, polling the
// frame queue between bursts.
func driveSequential(ctx context.Context, module *provider.Module, clock timeutil.Clock) error {
	ticker := clock.NewTicker(sequentialPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			for module.SpinOnce() {
			}
			if module.IsShutdown() {
				return nil
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
