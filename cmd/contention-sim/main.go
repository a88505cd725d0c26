package main

import (
	"os"

	"github.com/AntonStoeckl/contention-simulator/cmd/contention-sim/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
