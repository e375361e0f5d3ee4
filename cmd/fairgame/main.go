package main

import (
	"os"

	"github.com/phatpinkkk/fairgame-multiplayer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
