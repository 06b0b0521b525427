package main

import (
	"github.com/BioHazard786/studyroom/cmd"
	"github.com/BioHazard786/studyroom/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
