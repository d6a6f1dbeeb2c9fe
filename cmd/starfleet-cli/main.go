package main

import (
	"os"

	"github.com/annel0/starfleet/internal/logging"
)

func main() {
	logging.Configure(logging.Options{ConsoleLevel: logging.WARN})
	defer logging.CloseDefaultLogger()

	app := newApp(os.Stdin, os.Stdout)
	if err := app.rootCmd().Execute(); err != nil {
		app.printError(err)
		os.Exit(1)
	}
	if err := app.close(); err != nil {
		app.printError(err)
		os.Exit(1)
	}
}
