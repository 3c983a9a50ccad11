package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/imusync/internal/db"
	"github.com/banshee-data/imusync/internal/report"
)

func main() {
	var dbPath, sessionID, outDir string
	var limit int

	flag.StringVar(&dbPath, "db", "imusync.db", "path to sqlite db")
	flag.StringVar(&sessionID, "session", "", "session to plot (default: latest)")
	flag.StringVar(&outDir, "out", ".", "output directory for PNG files")
	flag.IntVar(&limit, "limit", 2000, "maximum number of packets to plot")
	flag.Parse()

	if err := plotSession(dbPath, sessionID, outDir, limit); err != nil {
		log.Fatal(err)
	}
}

func plotSession(dbPath, sessionID, outDir string, limit int) error {
	dbConn, err := db.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer dbConn.Close()

	var session db.Session
	if sessionID == "" {
		session, err = dbConn.LatestSession()
	} else {
		session, err = dbConn.GetSession(sessionID)
	}
	if err != nil {
		return err
	}

	packets, err := dbConn.RecentPackets(session.ID, limit)
	if err != nil {
		return fmt.Errorf("load packets: %w", err)
	}
	drops, err := dbConn.DropCounts(session.ID)
	if err != nil {
		return fmt.Errorf("load drops: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	files, err := report.PlotPackets(packets, "Session "+session.ID[:8], outDir)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (%s, %.0f Hz): %d packets, drops %v\n",
		session.ID, session.Source, session.IMURateHz, len(packets), drops)
	for _, f := range files {
		fmt.Printf("  wrote %s\n", f)
	}
	return nil
}
