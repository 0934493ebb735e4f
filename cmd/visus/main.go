// Command-line interface to IDX datasets.
// Creates, fills, reads and maintains datasets and publishes them over HTTP.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/dataset"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/server"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Number of logical CPUs to use.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
visus creates, reads and serves IDX multiresolution datasets

Usage: visus [options] <command>

      -cpuprofile =string   Write CPU profile to this file.
      -numcpu     =number   Number of logical CPUs to use.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	create   <file.idx> box="x1 x2 y1 y2 ..." fields="name dtype ..." [bits=V0101...] [bitsperblock=16] [blocksperfile=N] [time="0 9 time_%02d/"]
	info     <file.idx>
	write    <file.idx> <raw file> [field=name] [time=t] [box="x1 x2 ..."] [access settings]
	read     <file.idx> <raw file> [field=name] [time=t] [box="x1 x2 ..."] [toh=H] [access settings]
	compress <file.idx> <raw|zip|lz4|zstd|snappy> [access settings]
	filter   <file.idx> [field=name] [time=t] [window="wx wy ..."] [access settings]
	serve    <config.toml>
	version

Boxes use the descriptor form where the upper bound of each axis is inclusive.
Access settings are passed to the storage engine, e.g., type=ram size=1GB.
Raw files hold row-major samples of the field dtype.
`

var usage = func() {
	fmt.Printf("%s", helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}
	if *runVerbose {
		visus.SetLogLevel(visus.DebugLevel)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}
	if *useCPU != 0 {
		runtime.GOMAXPROCS(*useCPU)
	}

	// Capture ctrl+c and other interrupts.  Long running commands stop at
	// the next block.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := DoCommand(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		if *cpuprofile != "" {
			pprof.StopCPUProfile()
		}
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("blank command")
	}
	settings, positional := visus.ParseConfigArgs(args[1:])
	switch args[0] {
	case "create":
		return DoCreate(positional, settings)
	case "info":
		return DoInfo(positional)
	case "write":
		return DoWrite(ctx, positional, settings)
	case "read":
		return DoRead(ctx, positional, settings)
	case "compress":
		return DoCompress(ctx, positional, settings)
	case "filter":
		return DoFilter(ctx, positional, settings)
	case "serve":
		return DoServe(ctx, positional)
	case "version", "about":
		fmt.Printf("visus %s (git %s)\n", visus.Version, visus.GitVersion())
		fmt.Printf("Storage engines: %s\n", storage.EnginesAvailable())
		return nil
	}
	return fmt.Errorf("unknown command %q, try 'visus help'", args[0])
}

// popString removes a setting and returns its value.
func popString(settings visus.Config, key string) (string, bool, error) {
	s, found, err := settings.GetString(key)
	delete(settings, key)
	return s, found, err
}

// DoCreate performs the "create" command, writing a new descriptor.
func DoCreate(args []string, settings visus.Config) error {
	if len(args) != 1 {
		return fmt.Errorf("create command must be followed by the descriptor path")
	}
	file := idx.NewFile()
	s, found, err := popString(settings, "box")
	if err != nil || !found {
		return fmt.Errorf("create needs a box setting")
	}
	if file.Box, err = visus.ParseOldFormatBox(s); err != nil {
		return err
	}
	s, found, err = popString(settings, "fields")
	if err != nil || !found {
		return fmt.Errorf("create needs a fields setting")
	}
	if file.Fields, err = idx.ParseFields(s); err != nil {
		return err
	}
	if s, found, err = popString(settings, "bits"); err != nil {
		return err
	} else if found {
		if file.Bitmask, err = idx.ParseBitmask(s); err != nil {
			return err
		}
	}
	if file.BitsPerBlock, _, err = settings.GetInt("bitsperblock"); err != nil {
		return err
	}
	if file.BlocksPerFile, _, err = settings.GetInt("blocksperfile"); err != nil {
		return err
	}
	if s, found, err = popString(settings, "time"); err != nil {
		return err
	} else if found {
		fields := strings.Fields(s)
		if len(fields) < 2 {
			return fmt.Errorf(`time setting must be "from to [template]"`)
		}
		from, err1 := strconv.Atoi(fields[0])
		to, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("bad time setting %q", s)
		}
		file.Timesteps = idx.Timesteps{}
		file.Timesteps.AddTimesteps(from, to, 1)
		if len(fields) > 2 {
			file.TimeTemplate = fields[2]
		}
	}
	ds, err := dataset.CreateDataset(args[0], file)
	if err != nil {
		return err
	}
	fmt.Print(ds)
	return nil
}

// DoInfo performs the "info" command.
func DoInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("info command must be followed by the descriptor path or url")
	}
	ds, err := dataset.Open(args[0])
	if err != nil {
		return err
	}
	fmt.Print(ds)
	return nil
}

// target holds the field, time and box selected by command settings.
type target struct {
	ds    *dataset.Dataset
	field idx.Field
	time  float64
	box   visus.Box
}

func parseTarget(location string, settings visus.Config) (*target, error) {
	ds, err := dataset.Open(location)
	if err != nil {
		return nil, err
	}
	t := &target{ds: ds, field: ds.File.DefaultField(), time: ds.File.Timesteps.Default(), box: ds.Box()}
	if s, found, err := popString(settings, "field"); err != nil {
		return nil, err
	} else if found {
		if t.field, err = ds.File.Field(s); err != nil {
			return nil, err
		}
	}
	if s, found, err := popString(settings, "time"); err != nil {
		return nil, err
	} else if found {
		if t.time, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("bad time %q", s)
		}
	}
	if s, found, err := popString(settings, "box"); err != nil {
		return nil, err
	} else if found {
		if t.box, err = visus.ParseOldFormatBox(s); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// openAccess returns the access configured by the remaining settings.  A
// remote dataset without settings is read through its server.
func (t *target) openAccess(settings visus.Config) (storage.Access, error) {
	if t.ds.IsRemote() && len(settings) == 0 {
		return nil, nil
	}
	return t.ds.CreateAccess(settings)
}

// DoWrite performs the "write" command, storing a raw file at full resolution.
func DoWrite(ctx context.Context, args []string, settings visus.Config) error {
	if len(args) != 2 {
		return fmt.Errorf("write command must be followed by the descriptor and raw file paths")
	}
	t, err := parseTarget(args[0], settings)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	buf, err := array.FromBytes(t.box.Size(), t.field.DType, data)
	if err != nil {
		return err
	}
	access, err := t.ds.CreateAccess(settings)
	if err != nil {
		return err
	}
	defer access.Close()

	timedLog := visus.NewTimeLog()
	if err := t.ds.WriteFullResolution(ctx, access, t.field, t.time, t.box, buf); err != nil {
		return err
	}
	timedLog.Infof("Wrote %s of field %q to %s: %s\n", humanize.Bytes(uint64(len(data))), t.field.Name, t.box, access.Stats())
	return nil
}

// DoRead performs the "read" command, saving a box query as a raw file.
func DoRead(ctx context.Context, args []string, settings visus.Config) error {
	if len(args) != 2 {
		return fmt.Errorf("read command must be followed by the descriptor and raw file paths")
	}
	t, err := parseTarget(args[0], settings)
	if err != nil {
		return err
	}
	toh := t.ds.MaxResolution()
	if s, found, err := popString(settings, "toh"); err != nil {
		return err
	} else if found {
		if toh, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("bad toh %q", s)
		}
	}
	access, err := t.openAccess(settings)
	if err != nil {
		return err
	}
	if access != nil {
		defer access.Close()
	}

	q := t.ds.CreateBoxQuery(t.box, t.field, t.time, storage.ModeRead, visus.NewAborted(ctx))
	q.EndResolutions = []int{toh}
	if err := t.ds.BeginBoxQuery(q); err != nil {
		return err
	}
	if err := t.ds.ExecuteBoxQuery(ctx, access, q); err != nil {
		return err
	}
	if err := os.WriteFile(args[1], q.Buffer.Heap[:q.Buffer.NumBytes()], 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s samples (%s) of field %q at resolution %d to %s\n",
		q.Buffer.Dims.ToString(), q.Buffer.DType, t.field.Name, q.CurResolution, args[1])
	return nil
}

// DoCompress performs the "compress" command.
func DoCompress(ctx context.Context, args []string, settings visus.Config) error {
	if len(args) != 2 {
		return fmt.Errorf("compress command must be followed by the descriptor path and a codec")
	}
	compression, err := visus.ParseCompression(args[1])
	if err != nil {
		return err
	}
	ds, err := dataset.Open(args[0])
	if err != nil {
		return err
	}
	return ds.CompressDataset(ctx, compression, settings)
}

// DoFilter performs the "filter" command, applying the field filter to
// stored samples.
func DoFilter(ctx context.Context, args []string, settings visus.Config) error {
	if len(args) != 1 {
		return fmt.Errorf("filter command must be followed by the descriptor path")
	}
	t, err := parseTarget(args[0], settings)
	if err != nil {
		return err
	}
	var window visus.Point
	if s, found, err := popString(settings, "window"); err != nil {
		return err
	} else if found {
		if window, err = visus.ParsePoint(s); err != nil {
			return err
		}
	}
	access, err := t.ds.CreateAccess(settings)
	if err != nil {
		return err
	}
	defer access.Close()
	return t.ds.ComputeFilterOnDataset(ctx, access, t.field, t.time, window)
}

// DoServe loads a TOML configuration and serves its datasets until
// interrupted.
func DoServe(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("serve command must be followed by the TOML configuration path")
	}
	config, err := server.LoadConfig(args[0])
	if err != nil {
		return err
	}
	if err := config.Logging.SetLogger(); err != nil {
		return err
	}
	defer visus.Shutdown()

	s, err := server.New(config)
	if err != nil {
		return err
	}
	defer s.Close()
	visus.Infof("Serving datasets %v\n", s.Datasets())
	return s.Serve(ctx)
}
