package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sarchlab/norflashsim/hooking"
	"github.com/sarchlab/norflashsim/mem/norflash"
	"github.com/sarchlab/norflashsim/timing"
)

const envPrefix = "NORFLASH_"

// envName returns the environment variable that provides the default of a
// flag, e.g. NORFLASH_SAFE_ERASE_CYCLES for --safe-erase-cycles.
func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// loadEnvFile loads NORFLASH_* variables from a dotenv file. Variables that
// are already set are not overridden. A missing file is only an error if it
// was asked for explicitly.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if err == nil {
		log.WithField("file", path).Debug("loaded environment file")
		return nil
	}

	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("loading %s: %w", path, err)
}

// applyEnv fills every flag that was not given on the command line from its
// environment variable.
func applyEnv(flags *pflag.FlagSet) error {
	var errs []error

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}

		value, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}

		err := flags.Set(f.Name, value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envName(f.Name), err))
		}
	})

	return errors.Join(errs...)
}

// setupLogging sends logs to w, colored text on a terminal and JSON
// otherwise.
func setupLogging(w io.Writer, verbose bool) {
	log.SetOutput(w)

	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}

	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

type flashConfig struct {
	capacity        int
	readSize        uint32
	writeSize       uint32
	eraseSize       uint32
	logLevel        string
	seed            uint64
	safeEraseCycles uint32
	faultPeriod     uint32
}

func (c *flashConfig) register(flags *pflag.FlagSet) {
	g := norflash.GeometryR1W4E4K

	flags.IntVar(&c.capacity, "capacity", 1024*1024,
		"flash capacity in bytes")
	flags.Uint32Var(&c.readSize, "read-size", g.ReadSize,
		"read alignment in bytes")
	flags.Uint32Var(&c.writeSize, "write-size", g.WriteSize,
		"write alignment in bytes")
	flags.Uint32Var(&c.eraseSize, "erase-size", g.EraseSize,
		"erase page size in bytes")
	flags.StringVar(&c.logLevel, "log-level", "minimal",
		"transaction log level: none, minimal, write-data-only, "+
			"read-write-data or full")
	flags.Uint64Var(&c.seed, "seed", 0,
		"fault injection seed; faults are not reproducible if unset")
	flags.Uint32Var(&c.safeEraseCycles, "safe-erase-cycles",
		norflash.Unbounded, "erase cycles a page survives without faults")
	flags.Uint32Var(&c.faultPeriod, "fault-period", norflash.Unbounded,
		"erase cycles between faults once a page is worn")
}

// builder turns the configuration into a flash builder. seeded tells if the
// seed was given.
func (c *flashConfig) builder(seeded bool) (norflash.Builder, error) {
	level, err := norflash.ParseLogLevel(c.logLevel)
	if err != nil {
		return norflash.Builder{}, err
	}

	b := norflash.MakeBuilder().
		WithCapacity(c.capacity).
		WithGeometry(norflash.Geometry{
			ReadSize:  c.readSize,
			WriteSize: c.writeSize,
			EraseSize: c.eraseSize,
		}).
		WithSafeEraseCycles(c.safeEraseCycles).
		WithFaultPeriod(c.faultPeriod).
		WithLogLevel(level)

	if seeded {
		b = b.WithSeed(c.seed)
	}

	return b, b.Validate()
}

func (c *flashConfig) build(
	name string,
	seeded bool,
	hooks ...hooking.Hook,
) (*norflash.Flash, error) {
	b, err := c.builder(seeded)
	if err != nil {
		return nil, err
	}

	for _, h := range hooks {
		b = b.WithHook(h)
	}

	return b.Build(name), nil
}

type timingConfig struct {
	busWidth       string
	freqMHz        uint64
	pageEraseTime  time.Duration
	overheadCycles uint32
}

func (c *timingConfig) register(flags *pflag.FlagSet) {
	flags.StringVar(&c.busWidth, "bus-width", "qspi",
		"SPI bus width: spi, dspi or qspi")
	flags.Uint64Var(&c.freqMHz, "freq-mhz", 80, "bus frequency in MHz")
	flags.DurationVar(&c.pageEraseTime, "page-erase-time",
		45*time.Millisecond, "time to erase one page")
	flags.Uint32Var(&c.overheadCycles, "overhead-cycles", 8,
		"bus cycles of overhead per access")
}

func (c *timingConfig) build() (timing.Timings, error) {
	width, ok := timing.ParseBusWidth(c.busWidth)
	if !ok {
		return timing.Timings{}, fmt.Errorf("unknown bus width %q", c.busWidth)
	}

	if c.freqMHz == 0 {
		return timing.Timings{}, errors.New("frequency must be positive")
	}

	return timing.New(
		width,
		timing.Freq(c.freqMHz)*timing.MHz,
		c.pageEraseTime,
		c.overheadCycles,
	), nil
}
