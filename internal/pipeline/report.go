package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const maxReportedQueued = 25

// BuildReport renders the run as markdown for the report page.
func BuildReport(r *Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Collection run %s\n\n", r.StartedAt.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Finished in %s. ", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "%d records collected, %d new motions, %d new versions, %d queued for review, %d rejected.\n\n",
		len(r.Collect.Records), r.Store.Created, r.Store.NewVersions, r.Store.Queued, r.Store.Rejected)

	if len(r.Collect.Outcomes) > 0 {
		b.WriteString("## Sources\n\n")
		b.WriteString("| source | kind | records | attempts | duration | status |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		outcomes := append(r.Collect.Outcomes[:0:0], r.Collect.Outcomes...)
		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].SourceID < outcomes[j].SourceID })
		for _, o := range outcomes {
			status := "ok"
			if o.Failed {
				status = "failed"
			}
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %s | %s |\n",
				escapeCell(o.SourceID), o.Kind, o.Records, o.Attempts, o.Duration.Round(time.Millisecond), status)
		}
		b.WriteString("\n")
	}

	if len(r.Collect.Failures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, f := range r.Collect.Failures {
			fmt.Fprintf(&b, "- **%s** (%s, %d attempts): %s\n", f.SourceID, f.Class, f.Attempts, f.Reason)
		}
		b.WriteString("\n")
	}

	if len(r.ItemErrors) > 0 {
		b.WriteString("## Skipped records\n\n")
		for _, e := range r.ItemErrors {
			fmt.Fprintf(&b, "- `%s`: %s\n", e.ID, e.Reason)
		}
		b.WriteString("\n")
	}

	if len(r.Queued) > 0 {
		b.WriteString("## Newly queued\n\n")
		for i, q := range r.Queued {
			if i == maxReportedQueued {
				fmt.Fprintf(&b, "- and %d more\n", len(r.Queued)-maxReportedQueued)
				break
			}
			title := q.Title
			if q.URL != "" {
				title = fmt.Sprintf("[%s](%s)", q.Title, q.URL)
			}
			fmt.Fprintf(&b, "- %s (score %.2f: %s)\n", title, q.Score, strings.Join(q.Matched, ", "))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
