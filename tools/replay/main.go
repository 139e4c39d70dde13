// Command replay prints a human-readable transcript of a match JSONL
// file. Useful when a match result looks wrong and the raw log is too
// dense to eyeball.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mousetraptech/llmtourney/internal/telemetry"
)

func main() {
	showRaw := flag.Bool("raw", false, "include raw model output")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: replay [-raw] <match.jsonl>")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 4*1024*1024)
	for sc.Scan() {
		var head struct {
			RecordType string `json:"record_type"`
		}
		if err := json.Unmarshal(sc.Bytes(), &head); err != nil {
			log.Fatalf("bad line: %v", err)
		}
		switch head.RecordType {
		case "turn":
			var rec telemetry.TurnRecord
			if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
				log.Fatalf("decode turn: %v", err)
			}
			printTurn(rec, *showRaw)
		case "match_summary":
			var sum telemetry.MatchSummary
			if err := json.Unmarshal(sc.Bytes(), &sum); err != nil {
				log.Fatalf("decode summary: %v", err)
			}
			printSummary(sum)
		}
	}
	if err := sc.Err(); err != nil {
		log.Fatalf("read: %v", err)
	}
}

func printTurn(rec telemetry.TurnRecord, showRaw bool) {
	status := "ok"
	if rec.Violation != "" {
		status = fmt.Sprintf("%s -> %s", rec.Violation, rec.Ruling)
	}
	fmt.Printf("turn %3d  %-12s %-20s %8.0fms  %s\n",
		rec.TurnNumber, rec.PlayerID, rec.ModelID, rec.LatencyMS, status)
	if rec.ParsedAction != nil {
		action, _ := json.Marshal(rec.ParsedAction)
		fmt.Printf("          action: %s\n", action)
	}
	if showRaw && rec.RawOutput != "" {
		fmt.Printf("          raw: %q\n", rec.RawOutput)
	}
}

func printSummary(sum telemetry.MatchSummary) {
	fmt.Printf("\nmatch %s (%s)\n", sum.MatchID, sum.Event)
	fmt.Printf("  winner: %s (%s) in %d turns, %.1fs\n", sum.Winner, sum.WinReason, sum.Turns, sum.DurationS)
	for p, s := range sum.Scores {
		fmt.Printf("  %-20s %.1f\n", p, s)
	}
	for _, e := range sum.Eliminated {
		fmt.Printf("  eliminated: %s\n", e)
	}
}
