package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/entryledger/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN, or "memory" for the in-process store
//	-s string   ingress JWT HMAC secret
//	-y string   entry year
//	-m string   mail driver ("smtp" or "log")
//	-l string   log level
//	-b string   S3 archive bucket (empty disables the archive)
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, so the scheduler's -j flag and the -c/-env file flags
// do not trip it.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-y", "-m", "-l", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.IngressSecret, "s", config.IngressSecret, "ingress secret key")
	fs.StringVar(&config.EntryYear, "y", config.EntryYear, "entry year")
	fs.StringVar(&config.MailDriver, "m", config.MailDriver, "mail driver")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 archive bucket")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
