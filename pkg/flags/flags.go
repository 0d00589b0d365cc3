// Package flags configures the common set of flags every ivmsync binary
// parses before doing anything else: log level and a --version short
// circuit. Grounded on the teacher's own pkg/flags, stripped of the
// klog/k8s wiring no ivmsync process needs.
package flags

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// ConfigureAndParse adds flags that are common to every ivmsync process.
// This func calls flag.Parse(), so it should be called after all other
// flags have been configured.
func ConfigureAndParse() {
	logLevel := flag.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	printVersion := flag.Bool("version", false, "print version and exit")

	flag.Parse()

	setLogLevel(*logLevel)
	maybePrintVersionAndExit(*printVersion)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		fmt.Println(Version)
		os.Exit(0)
	}
	log.Infof("running version %s", Version)
}
