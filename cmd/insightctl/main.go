package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/joelkehle/insight-pipeline/internal/client"
	"github.com/joelkehle/insight-pipeline/internal/logging"
	"github.com/joelkehle/insight-pipeline/internal/pipeline"
)

const usage = `usage: insightctl [-server URL] <command> [args]

commands:
  submit <file.json>         submit a response and print its id
  process <id>               start or resume processing
  reprocess <id>             reset a finished response and run it again
  status <id>                print the processing status
  wait <id>                  poll until the response completes or fails
  report <id> [format]       print the report (json, markdown, html, pdf)
`

func main() {
	server := flag.String("server", envOr("INSIGHT_SERVER", "http://localhost:8080"), "insight API base URL")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall deadline for wait")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})
	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := client.NewClient(*server)
	if err := run(ctx, c, args[0], args[1:]); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("insightctl failed")
	}
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "submit":
		blob, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var sub pipeline.Submission
		if err := json.Unmarshal(blob, &sub); err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}
		id, err := c.Submit(ctx, sub)
		if err != nil {
			return err
		}
		fmt.Println(id)
	case "process", "reprocess":
		action := c.Process
		if cmd == "reprocess" {
			action = c.Reprocess
		}
		id, err := action(ctx, args[0])
		if err != nil {
			return err
		}
		log.Info().Str("response_id", id).Msg("accepted")
	case "status", "wait":
		var (
			st  client.Status
			err error
		)
		if cmd == "wait" {
			st, err = c.Wait(ctx, args[0], 2*time.Second)
		} else {
			st, err = c.Status(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(st)
	case "report":
		format := "markdown"
		if len(args) > 1 {
			format = args[1]
		}
		out, err := c.Report(ctx, args[0], format)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
