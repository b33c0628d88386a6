package main

import (
	"github.com/BioHazard786/Warpmeet/cli/cmd"
	"github.com/BioHazard786/Warpmeet/cli/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
