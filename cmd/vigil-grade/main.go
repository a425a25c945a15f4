// Command vigil-grade grades a sealed session out of the forensic
// database and prints the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/report"
	"github.com/astromind-data/vigil.report/internal/store"
)

var (
	dbFile     = flag.String("db", "vigil.db", "Forensic database file")
	configPath = flag.String("config", "", "Tuning config JSON (defaults apply when omitted)")
	sessionID  = flag.String("session", "", "Session ID (latest sealed session when omitted)")
	asJSON     = flag.Bool("json", false, "Emit the full report document as JSON")
	chartPath  = flag.String("chart", "", "Also write a PNG ratio chart to this path")
	outDir     = flag.String("out", "", "Also write text and JSON report files into this directory")
)

func main() {
	flag.Parse()

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	st, err := store.NewStore(*dbFile)
	if err != nil {
		log.Fatalf("failed to open forensic database: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	id := *sessionID
	if id == "" {
		latest, err := st.LatestSealedSession(ctx)
		if err != nil {
			log.Fatalf("no sealed session found: %v", err)
		}
		id = latest.ID
	}

	builder := report.NewBuilder(st, cfg)
	doc, err := builder.Build(ctx, id)
	if err != nil {
		log.Fatalf("failed to build report: %v", err)
	}

	if *chartPath != "" {
		if err := builder.SaveRatioChart(ctx, id, *chartPath); err != nil {
			log.Fatalf("failed to write ratio chart: %v", err)
		}
	}

	if *outDir != "" {
		txt, js, err := doc.SaveFiles(*outDir)
		if err != nil {
			log.Fatalf("failed to write report files: %v", err)
		}
		log.Printf("wrote %s and %s", txt, js)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			log.Fatalf("failed to encode report: %v", err)
		}
		return
	}
	if err := doc.WriteText(os.Stdout); err != nil {
		log.Fatalf("failed to write report: %v", err)
	}
}
