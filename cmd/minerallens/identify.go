package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vbonduro/minerallens/internal/domain"
	"github.com/vbonduro/minerallens/internal/identify"
	"github.com/vbonduro/minerallens/internal/ingest"
)

type IdentifyCmd struct {
	Image string `arg:"" type:"existingfile" help:"Photo of the specimen"`

	in  io.Reader
	out io.Writer
}

func (cmd *IdentifyCmd) Run(globals *Globals) error {
	backend, err := newBackend(globals.ctx, globals.cfg, globals.logger)
	if err != nil {
		return err
	}
	if cmd.in == nil {
		cmd.in = os.Stdin
	}
	if cmd.out == nil {
		cmd.out = os.Stdout
	}
	return cmd.run(globals, identify.NewController(backend, globals.logger))
}

func (cmd *IdentifyCmd) run(globals *Globals, ctrl *identify.Controller) error {
	data, err := os.ReadFile(cmd.Image)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	img, err := ingest.EncodeBytes(data, mimetype.Detect(data).String())
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Image, err)
	}

	fmt.Fprintln(cmd.out, "Analyzing...")
	analysis, err := ctrl.Identify(globals.ctx, img)
	if err != nil {
		return err
	}
	printAnalysis(cmd.out, analysis)

	fmt.Fprint(cmd.out, "\n> ")
	scanner := bufio.NewScanner(cmd.in)
	for scanner.Scan() {
		if globals.ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(cmd.out, "> ")
			continue
		}
		updates, err := ctrl.Send(globals.ctx, line)
		if err != nil {
			return err
		}
		streamed := false
		for u := range updates {
			switch {
			case u.Err != nil:
				if streamed {
					fmt.Fprintln(cmd.out)
				}
				fmt.Fprintln(cmd.out, u.Text)
			case u.Done:
				fmt.Fprintln(cmd.out)
			default:
				streamed = true
				fmt.Fprint(cmd.out, u.Delta)
			}
		}
		fmt.Fprint(cmd.out, "> ")
	}
	return scanner.Err()
}

func printAnalysis(w io.Writer, a *domain.MineralAnalysis) {
	fmt.Fprintf(w, "\n%s (%s)  %d%%\n", a.NameChinese, a.NameEnglish, a.ConfidenceLevel)
	fmt.Fprintf(w, "%s\n\n%s\n", a.ChemicalFormula, a.Description)
	printList(w, "Identification", a.IdentificationReasons)
	printList(w, "Stories", a.HistoricalStories)
	printList(w, "Topics", a.SocialMediaTopics)
	if len(a.OtherCandidates) > 0 {
		fmt.Fprintln(w, "\nOther candidates:")
		for _, c := range a.OtherCandidates {
			fmt.Fprintf(w, "  - %s  %d%%\n", c.Name, c.Confidence)
		}
	}
	if len(a.References) > 0 {
		fmt.Fprintln(w, "\nReferences:")
		for _, r := range a.References {
			fmt.Fprintf(w, "  - %s <%s>\n", r.Title, r.URL)
		}
	}
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}
