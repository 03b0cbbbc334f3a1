package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/joelkehle/insight-pipeline/internal/logging"
	"github.com/joelkehle/insight-pipeline/internal/questionnaire"
	"github.com/joelkehle/insight-pipeline/internal/reportrender"
	"github.com/joelkehle/insight-pipeline/internal/store"
)

func main() {
	dbPath := flag.String("db", os.Getenv("DB_PATH"), "path to SQLite database file")
	responseID := flag.String("response", "", "response id whose report to render")
	format := flag.String("format", "markdown", "output format: markdown, html or pdf")
	outputPath := flag.String("output", "", "path to write the rendered report (defaults to stdout)")
	chromePath := flag.String("chrome", os.Getenv("CHROME_PATH"), "Chromium binary for pdf output")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})
	if *dbPath == "" || *responseID == "" {
		log.Fatal().Msg("missing required -db and -response")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	r, err := st.GetResponse(ctx, *responseID)
	if err != nil {
		log.Fatal().Err(err).Msg("load response")
	}
	var qn *questionnaire.Questionnaire
	if q, err := st.GetQuestionnaire(ctx, r.QuestionnaireID); err == nil {
		qn = q
	}

	md, err := reportrender.Markdown(r, qn)
	if err != nil {
		log.Fatal().Err(err).Msg("render markdown")
	}
	out := []byte(md)
	switch strings.ToLower(*format) {
	case "markdown", "md":
	case "html", "pdf":
		doc, err := reportrender.HTML(md, "Informe "+r.ID)
		if err != nil {
			log.Fatal().Err(err).Msg("render html")
		}
		out = []byte(doc)
		if strings.EqualFold(*format, "pdf") {
			if *outputPath == "" {
				log.Fatal().Msg("pdf output requires -output")
			}
			if out, err = reportrender.NewPDFRenderer(*chromePath).Render(ctx, doc); err != nil {
				log.Fatal().Err(err).Msg("render pdf")
			}
		}
	default:
		log.Fatal().Str("format", *format).Msg("unknown format")
	}

	if err := write(*outputPath, out); err != nil {
		log.Fatal().Err(err).Msg("write output")
	}
}

func write(path string, b []byte) error {
	if path == "" {
		_, err := fmt.Print(string(b))
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
