package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/danmuck/minitel/internal/record"
)

func runReplay(path string) int {
	doc, err := record.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minitel-client: %v\n", err)
		return exitUsage
	}
	printSession(os.Stdout, doc)
	return exitOK
}

// printSession writes one line per recorded step.
func printSession(w io.Writer, doc record.Session) {
	fmt.Fprintf(w, "session %s: %d steps\n", doc.SessionID, doc.TotalSteps)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tTIME\tDIR\tCOMMAND\tNONCE\tPAYLOAD")
	for _, s := range doc.Records {
		payload := s.PayloadHex
		if s.PayloadText != nil {
			payload = *s.PayloadText
		}
		at := time.Unix(0, int64(s.Timestamp*float64(time.Second))).Format("15:04:05.000")
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", s.StepNumber, at, s.Direction, s.Command, s.Nonce, payload)
	}
	_ = tw.Flush()
}
