package main

import (
	"github.com/cascoin-org/wcas-bridge/cmd"
	"github.com/cascoin-org/wcas-bridge/config"
)

func main() {
	// Load environment variables into viper
	if err := config.LoadEnv(); err != nil {
		panic("Failed to load environment variables: " + err.Error())
	}
	if err := cmd.Execute(); err != nil {
		panic(err)
	}
}
