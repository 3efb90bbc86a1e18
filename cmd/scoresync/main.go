package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/zurustar/scoresync/pkg/app"
)

//go:embed scores
var embeddedScores embed.FS

func main() {
	application := app.New(embeddedScores)
	if err := application.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
