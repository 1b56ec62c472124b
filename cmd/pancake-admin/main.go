// pancake-admin is a CLI tool for inspecting workflow runs.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	pancake "github.com/andrius0/pancake"
	_ "github.com/lib/pq"
)

var (
	databaseURL string
	tablePrefix string
)

func main() {
	flag.StringVar(&databaseURL, "db", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	flag.StringVar(&tablePrefix, "tables", "pancake", "Table prefix for run storage")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "list":
		runList(cmdArgs)
	case "show":
		runShow(cmdArgs)
	case "stats":
		runStats(cmdArgs)
	case "running":
		runRunning(cmdArgs)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pancake-admin - workflow run management CLI

Usage:
  pancake-admin [flags] <command> [args]

Flags:
  -db string       PostgreSQL connection URL (or set DATABASE_URL env var)
  -tables string   Table prefix for run storage (default "pancake")

Commands:
  list             List runs (optionally filter by status)
  show <id>        Show details and history of a specific run
  stats            Show run statistics
  running          List runs still in running state
  help             Show this help message

Examples:
  pancake-admin -db "postgres://localhost/restaurant" list
  pancake-admin -db "postgres://localhost/restaurant" list --status failed
  pancake-admin -db "postgres://localhost/restaurant" show pancake-run-order-123
  pancake-admin -db "postgres://localhost/restaurant" stats`)
}

func getStore() (*pancake.PostgresHistory, func()) {
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "Error: DATABASE_URL or -db flag required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}

	store, err := pancake.NewPostgresHistory(db, tablePrefix)
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Error creating store: %v\n", err)
		os.Exit(1)
	}

	return store, func() { db.Close() }
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (running, completed, failed)")
	limit := fs.Int("limit", 20, "Maximum number of results")
	offset := fs.Int("offset", 0, "Offset for pagination")
	_ = fs.Parse(args)

	store, cleanup := getStore()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	filter := pancake.RunFilter{
		Limit:  *limit,
		Offset: *offset,
	}

	if *status != "" {
		filter.Status = []pancake.RunStatus{pancake.RunStatus(*status)}
	}

	result, err := store.Query(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying runs: %v\n", err)
		os.Exit(1)
	}

	if len(result.Runs) == 0 {
		fmt.Println("No runs found.")
		return
	}

	fmt.Printf("Showing %d of %d runs:\n\n", len(result.Runs), result.Total)
	fmt.Printf("%-40s %-12s %-20s\n", "ID", "STATUS", "UPDATED")
	fmt.Println(strings.Repeat("-", 74))

	for _, run := range result.Runs {
		fmt.Printf("%-40s %-12s %-20s\n",
			truncate(run.ID, 40),
			run.Status,
			run.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
}

func runShow(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Error: run ID required")
		os.Exit(1)
	}

	id := args[0]

	store, cleanup := getStore()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run, err := store.GetRun(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching run: %v\n", err)
		os.Exit(1)
	}

	if run == nil {
		fmt.Fprintf(os.Stderr, "Run not found: %s\n", id)
		os.Exit(1)
	}

	fmt.Printf("Run:     %s\n", run.ID)
	fmt.Printf("Status:  %s\n", run.Status)
	fmt.Printf("Created: %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", run.UpdatedAt.Format(time.RFC3339))

	if len(run.Input) > 0 && string(run.Input) != "{}" {
		fmt.Printf("\nInput:\n")
		prettyPrint(run.Input)
	}

	if len(run.History) > 0 {
		fmt.Printf("\nHistory (%d steps):\n", len(run.History))
		for _, rec := range run.History {
			outcome := "ok"
			if rec.Failure != nil {
				outcome = string(rec.Failure.Kind)
			}
			fmt.Printf("  %d. %s on %s [%s, %d attempts]\n",
				rec.StepIndex, rec.ActivityName, rec.QueueName, outcome, rec.AttemptCount)
			if len(rec.Result) > 0 {
				fmt.Printf("     Result: %s\n", truncate(string(rec.Result), 60))
			}
			if rec.Failure != nil {
				fmt.Printf("     Failure: %s\n", truncate(rec.Failure.Message, 60))
			}
		}
	}

	if len(run.Result) > 0 {
		fmt.Printf("\nResult:\n")
		prettyPrint(run.Result)
	}

	if run.Failure != nil {
		fmt.Printf("\nFailure:\n")
		fmt.Printf("  Kind:    %s\n", run.Failure.Kind)
		fmt.Printf("  Message: %s\n", run.Failure.Message)
	}
}

func runStats(args []string) {
	store, cleanup := getStore()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statuses := []pancake.RunStatus{
		pancake.StatusRunning,
		pancake.StatusCompleted,
		pancake.StatusFailed,
	}

	fmt.Println("Run Statistics:")
	fmt.Println(strings.Repeat("-", 30))

	total := 0
	for _, status := range statuses {
		count, err := store.CountByStatus(ctx, status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", status, err)
			continue
		}
		total += count
		fmt.Printf("%-15s %d\n", string(status)+":", count)
	}

	fmt.Println(strings.Repeat("-", 30))
	fmt.Printf("%-15s %d\n", "Total:", total)
}

func runRunning(args []string) {
	fs := flag.NewFlagSet("running", flag.ExitOnError)
	limit := fs.Int("limit", 50, "Maximum number of results")
	_ = fs.Parse(args)

	store, cleanup := getStore()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := store.Query(ctx, pancake.RunFilter{
		Status: []pancake.RunStatus{pancake.StatusRunning},
		Limit:  *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying running runs: %v\n", err)
		os.Exit(1)
	}

	if len(result.Runs) == 0 {
		fmt.Println("No running runs found.")
		return
	}

	fmt.Printf("Running Runs (%d total):\n\n", result.Total)
	fmt.Printf("%-40s %-20s %s\n", "ID", "STARTED", "AGE")
	fmt.Println(strings.Repeat("-", 80))

	for _, run := range result.Runs {
		fmt.Printf("%-40s %-20s %s\n",
			truncate(run.ID, 40),
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			time.Since(run.CreatedAt).Round(time.Second),
		)
	}

	fmt.Printf("\nA restarted engine resumes these automatically.\n")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func prettyPrint(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Printf("  %s\n", string(data))
		return
	}
	pretty, _ := json.MarshalIndent(v, "  ", "  ")
	fmt.Printf("  %s\n", string(pretty))
}
