package main

import (
	"logpipe/internal/app"
)

func main() {
	app.Execute(app.NewCommand("standalone", "Runs the gateway and the engine in one process", app.RunStandalone))
}
