package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"shiptrack/internal/config"
	"shiptrack/internal/infrastructure/postgres"
)

func main() {
	list := flag.Bool("dead", false, "list dead-lettered events")
	limit := flag.Int("limit", 20, "max dead events to list")
	requeue := flag.String("requeue", "", "move the dead event with this id back into the queue")
	asJSON := flag.Bool("json", false, "print JSON instead of a table")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewClient(ctx, postgres.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		DBName:   cfg.Postgres.DBName,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: 2,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	queue := postgres.NewEventQueue(pool, cfg.Queue.MaxAttempts, cfg.Queue.RetryBackoff)

	if *requeue != "" {
		if err := queue.Requeue(ctx, *requeue); err != nil {
			fmt.Fprintf(os.Stderr, "requeue failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("requeued %s\n", *requeue)
	}

	stats, err := queue.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats failed: %v\n", err)
		os.Exit(1)
	}
	if *asJSON {
		json.NewEncoder(os.Stdout).Encode(stats)
	} else {
		fmt.Println("--- Queue ---")
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOPIC\tREADY\tLOCKED\tDELAYED\tDEAD")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.Topic, s.Ready, s.Locked, s.Delayed, s.Dead)
		}
		tw.Flush()
	}

	if !*list {
		return
	}
	dead, err := queue.ListDead(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list dead failed: %v\n", err)
		os.Exit(1)
	}
	if *asJSON {
		json.NewEncoder(os.Stdout).Encode(dead)
		return
	}
	fmt.Println("\n--- Dead letters ---")
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOPIC\tATTEMPTS\tFAILED AT\tLAST ERROR")
	for _, d := range dead {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n", d.ID, d.Topic, d.Attempts, d.MaxAttempts, d.FailedAt.Format(time.RFC3339), d.LastError)
	}
	tw.Flush()
}
