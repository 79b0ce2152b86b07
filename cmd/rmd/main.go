// Command rmd is the resource-manager launcher binary: it parses the CLI
// surface of spec.md §6, loads configuration, and runs the server until
// asked to halt or reboot.
//
// Grounded on canonical-snapd's cmd/snap tree, which parses its CLI
// surface with github.com/jessevdk/go-flags.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"

	"rm/activity"
	"rm/bucket"
	"rm/capspace"
	"rm/config"
	"rm/folio"
	"rm/rm"
)

const version = "0.1.0"

type options struct {
	Output  string `short:"o" long:"output" description:"console output driver[,options] (e.g. console, stdout, file,/path)" default:"console"`
	Debug   int    `short:"D" long:"debug" description:"debug level" default:"0"`
	Halt    bool   `long:"halt" description:"halt after initialization, do not serve"`
	Reboot  bool   `short:"r" long:"reboot" description:"log a reboot request on clean shutdown (no reboot is performed)"`
	Version bool   `long:"version" description:"print version and exit"`
	Usage   bool   `long:"usage" description:"print usage and exit"`

	Args struct {
		Config string `positional-arg-name:"config" description:"path to the YAML config file"`
	} `positional-args:"yes"`
}

// openOutput resolves -o/--output's "driver[,options]" syntax into an
// io.Writer. console output drivers proper are out of scope (spec.md's
// overview); these three are the minimal stand-ins the launcher needs to
// pick a destination for its own leveled trace.
func openOutput(spec string) (io.Writer, error) {
	driver, opts, _ := strings.Cut(spec, ",")
	switch driver {
	case "", "console", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "file":
		if opts == "" {
			return nil, fmt.Errorf("output driver %q requires a path", spec)
		}
		return os.OpenFile(opts, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	default:
		return nil, fmt.Errorf("unknown output driver %q", driver)
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Usage = "[OPTIONS]"
	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if opts.Usage {
		parser.WriteHelp(os.Stdout)
		return 0
	}
	if opts.Version {
		fmt.Println(version)
		return 0
	}

	out, err := openOutput(opts.Output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	lg := rm.NewLoggerTo(out, rm.Level(opts.Debug))

	cfgPath := opts.Args.Config
	if cfgPath == "" {
		cfgPath = "rm.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		lg.Warnf("no config at %s, using defaults: %v", cfgPath, err)
		cfg = config.Default()
	}

	alloc, err := folio.Open(cfg.Volume.Path, cfg.Volume.CapacityFrames)
	if err != nil {
		lg.Errorf("open volume: %v", err)
		return 1
	}
	defer alloc.Close()

	space := capspace.NewSpace(8)
	reg := activity.NewRegistry()
	server := rm.NewServer(space, alloc, reg, lg)

	policy := bucket.Synchronous
	if cfg.Bucket.AllocPolicy == "async" {
		policy = bucket.Asynchronous
	}
	buck := server.NewBucket(policy)

	if opts.Halt {
		lg.Infof("initialized, halting per --halt")
		buck.End()
		return 0
	}

	lg.Infof("resource manager ready")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	lg.Infof("shutting down")
	if err := buck.End(); err != nil {
		lg.Errorf("bucket shutdown: %v", err)
	}
	if opts.Reboot {
		lg.Infof("reboot requested on clean shutdown")
	}
	return 0
}
