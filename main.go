package main

import (
	"flag"
	"fmt"
	"os"

	"authlog-blocker/app"
	"authlog-blocker/config"
)

var (
	configPathParam string
	dryRunParam     bool
)

func init() {
	flag.StringVar(&configPathParam, "config", "", "required: config path")
	flag.BoolVar(&dryRunParam, "dry-run", false, "log decisions without touching the firewall")
	flag.Parse()
}

func main() {
	if configPathParam == "" {
		finishAsFailed(fmt.Errorf("missing required -config parameter"))
	}
	c, err := config.Load(configPathParam)
	if err != nil {
		finishAsFailed(err)
	}
	if dryRunParam {
		c.EnableDryRun()
	}
	err = app.Start(c)
	if err != nil {
		finishAsFailed(err)
	}
}

func finishAsFailed(err error) {
	fmt.Println(err)
	os.Exit(1)
}
