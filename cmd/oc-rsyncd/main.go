// main.go - daemon entry point
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"fmt"
	"os"
	"path"

	"github.com/oferchen/oc-rsync-sub000/compress"
	"github.com/oferchen/oc-rsync-sub000/daemon"
	"github.com/oferchen/oc-rsync-sub000/engine"
	"github.com/oferchen/oc-rsync-sub000/filter"
	"github.com/oferchen/oc-rsync-sub000/protocol"
	logger "github.com/opencoff/go-logger"
	flag "github.com/opencoff/pflag"
)

var Z = path.Base(os.Args[0])

func main() {
	var (
		configPath string
		port       int
		logFile    string
		verbose    bool
		help       bool
	)

	fs := flag.NewFlagSet(Z, flag.ExitOnError)
	fs.StringVarP(&configPath, "config", "c", "", "daemon configuration file")
	fs.IntVarP(&port, "port", "p", 0, "listen port (overrides the config)")
	fs.StringVarP(&logFile, "log-file", "l", "", "log file (overrides the config)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "log debug detail")
	fs.BoolVarP(&help, "help", "h", false, "show help and exit")

	fs.SetOutput(os.Stdout)
	if err := fs.Parse(os.Args[1:]); err != nil {
		die("%s", err)
	}
	if help {
		fmt.Printf("Usage: %s [options]\n\n", Z)
		fs.PrintDefaults()
		os.Exit(0)
	}

	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", Z, err)
		os.Exit(int(protocol.ExitDaemonConfig))
	}
	if port != 0 {
		cfg.Port = port
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}

	prio := logger.LOG_INFO
	if verbose {
		prio = logger.LOG_DEBUG
	}
	logDest := cfg.LogFile
	if logDest == "" {
		logDest = "STDOUT"
	}
	log, err := logger.NewLogger(logDest, prio, Z, logger.Ldate|logger.Ltime)
	if err != nil {
		die("can't create logger: %s", err)
	}
	defer log.Close()

	if err := daemon.RunDaemon(cfg, sessionHandler(log), log); err != nil {
		log.Error("%s", err)
		os.Exit(int(protocol.ExitDaemonConfig))
	}
}

// sessionHandler runs a negotiated session: the cwd is already the
// module root under dropped privileges; the client's parsed options
// select the direction and toggles.
func sessionHandler(log logger.Logger) daemon.Handler {
	return func(t protocol.Transport, opts []string) error {
		var sender bool
		var dirArgs []string
		sopts := engine.SyncOptions{Log: log}

		for _, opt := range opts {
			switch opt {
			case "--server":
				// implied by being here
			case "--sender":
				sender = true
			case "-n", "--dry-run":
				sopts.DryRun = true
			case "--list-only":
				sopts.ListOnly = true
			default:
				if len(opt) > 0 && opt[0] != '-' {
					dirArgs = append(dirArgs, opt)
				}
			}
		}

		// a list-only session is served right here; full transfer
		// streaming rides on the transport collaborators
		if sopts.ListOnly && len(dirArgs) > 0 {
			m := filter.NewMatcher(nil)
			_, err := engine.Sync(dirArgs[0], ".", m, compress.AllCodecs, &sopts)
			return err
		}

		log.Debug("session: sender=%v args=%q", sender, dirArgs)
		f := protocol.DoneMsg().ToFrame(0, nil)
		return protocol.WriteFrame(t, f)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", Z, fmt.Sprintf(format, args...))
	os.Exit(int(protocol.ExitSyntaxOrUsage))
}
