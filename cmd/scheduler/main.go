// Command scheduler runs one scheduler job and exits, or runs every job on
// its cron spec with -j daemon.
//
//	scheduler -j withdraw-unpaid-submitted
//	scheduler -j daemon -c config.json
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/entryledger/internal/flagx"
	"github.com/dmitrijs2005/entryledger/internal/server"
	"github.com/dmitrijs2005/entryledger/internal/server/config"
	"github.com/dmitrijs2005/entryledger/internal/server/services"
)

func main() {
	job := flagx.Lookup(os.Args[1:], "j", "job")
	if job == "" {
		fmt.Fprintf(os.Stderr, "usage: scheduler -j <job>\njobs: %s, %s\n", strings.Join(services.Jobs, ", "), server.JobDaemon)
		os.Exit(2)
	}

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	if err := app.RunJob(ctx, job); err != nil {
		log.Printf("%s: %v", job, err)
		app.Close()
		os.Exit(1)
	}
}
