package main

import (
	"github.com/ds124wfegd/espdisplay/config"
	"github.com/ds124wfegd/espdisplay/internal/appServer"
	"github.com/sirupsen/logrus"
)

func main() {
	v, err := config.LoadConfig(config.GetEnv("ESPDISPLAY_CONFIG_DIR", "./config"))
	if err != nil {
		logrus.Fatalf("error initializing configs: %s", err.Error())
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		logrus.Fatalf("error parsing configs: %s", err.Error())
	}

	appServer.NewServer(cfg)
}
