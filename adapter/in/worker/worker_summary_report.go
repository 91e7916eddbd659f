package worker

import (
	"fmt"
	"io"
	"sort"
	"time"

	"triage_worker/core/domain"
	"triage_worker/core/service/triage"
	"triage_worker/pkg/metrics"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
)

var (
	headColor = color.New(color.Bold)
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

// RenderSummary writes a human-readable report of a batch run.
func RenderSummary(w io.Writer, s *triage.Summary, unreadable int) error {
	headColor.Fprintf(w, "Triage run %s\n", s.RunID)
	fmt.Fprintf(w, "  total          %d\n", s.Total)
	okColor.Fprintf(w, "  succeeded      %d", s.Succeeded)
	fmt.Fprintf(w, " (%d via fallback)\n", s.SucceededViaFallback)
	if s.Failed > 0 {
		failColor.Fprintf(w, "  failed         %d\n", s.Failed)
	} else {
		fmt.Fprintf(w, "  failed         0\n")
	}
	if s.NotAttempted > 0 {
		warnColor.Fprintf(w, "  not attempted  %d\n", s.NotAttempted)
	}
	if unreadable > 0 {
		warnColor.Fprintf(w, "  unreadable     %d file(s)\n", unreadable)
	}

	rate := fmt.Sprintf("  fallback rate  %.1f%% (%d of %d verdicts)\n", s.FallbackRate*100,
		s.VerdictsBySource[domain.SourceFallback],
		s.VerdictsBySource[domain.SourceFallback]+s.VerdictsBySource[domain.SourceModel])
	if s.FallbackRate > 0 {
		warnColor.Fprint(w, rate)
	} else {
		fmt.Fprint(w, rate)
	}

	fmt.Fprintf(w, "  embeddings     %d created, %d reused, %d skipped, %d failed\n",
		s.EmbeddingsCreated, s.EmbeddingsReused, s.EmbeddingsSkipped, s.EmbeddingFailures())
	if s.LargeEmails > 0 {
		fmt.Fprintf(w, "  large emails   %d\n", s.LargeEmails)
	}
	fmt.Fprintf(w, "  duration       %s\n", s.Duration.Round(time.Millisecond))

	writeKinds(w, "Failures by kind", s.FailuresByKind)
	writeKinds(w, "Embedding failures by kind", s.EmbeddingFailuresByKind)

	var problems []triage.ItemReport
	for _, item := range s.Items {
		if item.Outcome == metrics.OutcomeFailed || item.EmbeddingError != "" {
			problems = append(problems, item)
		}
	}
	if len(problems) > 0 {
		headColor.Fprintln(w, "Item errors")
		for _, item := range problems {
			if item.Outcome == metrics.OutcomeFailed {
				failColor.Fprintf(w, "  %s  %s  %s\n", item.MessageID, item.FailureKind, item.Error)
			} else {
				warnColor.Fprintf(w, "  %s  embedding %s  %s\n", item.MessageID, item.EmbeddingKind, item.EmbeddingError)
			}
		}
	}

	if s.Aborted != "" {
		failColor.Fprintf(w, "Run aborted: %s\n", s.Aborted)
	} else if s.Cancelled {
		warnColor.Fprintln(w, "Run cancelled before all emails were attempted")
	}
	_, err := dimColor.Fprintln(w, "")
	return err
}

func writeKinds(w io.Writer, title string, kinds map[string]int) {
	if len(kinds) == 0 {
		return
	}
	keys := make([]string, 0, len(kinds))
	for k := range kinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headColor.Fprintln(w, title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %d\n", k, kinds[k])
	}
}

// RenderJSON writes the summary as one JSON document.
func RenderJSON(w io.Writer, s *triage.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
