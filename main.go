package main

import (
	"github.com/securescan/securescan/cmd"
	"github.com/securescan/securescan/internal/config"
)

func main() {
	config.LoadConfig()
	cmd.Execute()
}
