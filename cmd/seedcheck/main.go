// Command seedcheck prints the derived match seeds for a tournament
// config, for verifying that two hosts will play identical matches.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mousetraptech/llmtourney/internal/config"
	"github.com/mousetraptech/llmtourney/internal/seed"
)

func main() {
	rounds := flag.Int("rounds", 3, "rounds to derive per event")
	matches := flag.Int("matches", 4, "matches to derive per round")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: seedcheck [-rounds N] [-matches N] <config.yaml>")
		os.Exit(2)
	}

	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	mgr := seed.NewManager(cfg.Tournament.Seed)
	fmt.Printf("tournament %q, master seed %d\n\n", cfg.Tournament.Name, cfg.Tournament.Seed)
	for _, event := range cfg.Events {
		fmt.Printf("event %s\n", event.Name)
		for r := 1; r <= *rounds; r++ {
			for m := 0; m < *matches; m++ {
				fmt.Printf("  round %d match %d: %d\n", r, m, mgr.MatchSeed(event.Name, r, m))
			}
		}
	}
}
