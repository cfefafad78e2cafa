package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/tally/internal/backup"
	"github.com/HerbHall/tally/internal/server"
)

// runBackup implements "tally backup [-config path] [-o archive]".
func runBackup(args []string) int {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	output := fs.String("o", "", "archive path (default tally-backup-<timestamp>.tar.gz)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	archive := *output
	if archive == "" {
		archive = fmt.Sprintf("tally-backup-%s.tar.gz", time.Now().UTC().Format("20060102-150405"))
	}

	if err := backup.Backup(context.Background(), v.GetString("database.path"), v.ConfigFileUsed(), archive); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		return 1
	}
	fmt.Println("backup written to", archive)
	return 0
}

// runRestore implements "tally restore [-force] [-dir target] archive".
func runRestore(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite existing files")
	dir := fs.String("dir", "./data", "target directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(fs.Output(), "usage: tally restore [-force] [-dir target] archive")
		return 2
	}

	if err := backup.Restore(context.Background(), fs.Arg(0), *dir, *force); err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		return 1
	}
	fmt.Println("restored into", *dir)
	return 0
}
