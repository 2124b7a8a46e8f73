package status

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"caliban/internal/dispatcher"
	"caliban/internal/registry"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status registry.JobStatus) string {
	switch status {
	case registry.StatusSucceeded:
		return colorGreen + "✓" + colorReset
	case registry.StatusFailed:
		return colorRed + "✗" + colorReset
	case registry.StatusRunning:
		return colorYellow + "⏳" + colorReset
	case registry.StatusSubmitted:
		return colorCyan + "◯" + colorReset
	case registry.StatusStopped:
		return colorDim + "■" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status registry.JobStatus) string {
	icon := statusIcon(status)
	switch status {
	case registry.StatusSucceeded:
		return icon + " " + colorGreen + string(status) + colorReset
	case registry.StatusFailed:
		return icon + " " + colorRed + string(status) + colorReset
	case registry.StatusRunning:
		return icon + " " + colorYellow + string(status) + colorReset
	case registry.StatusSubmitted:
		return icon + " " + colorCyan + string(status) + colorReset
	case registry.StatusStopped:
		return icon + " " + colorDim + string(status) + colorReset
	default:
		return string(status)
	}
}

// renderJobs prints a flat table of jobs, grouped visually by group, then
// image, then experiment: repeated values are blanked after their first row.
func renderJobs(out io.Writer, rows []jobRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Group", "Image", "Exp", "Job", "Backend", "Status", "Handle", "Created"})

	prevGroup, prevImage := "", ""
	var prevExp int64
	for _, r := range rows {
		group, image, exp := r.Group, shortImage(r.Image), fmt.Sprintf("%d", r.Experiment.ID)
		if r.Group == prevGroup {
			group = ""
			if r.Image == prevImage {
				image = ""
				if r.Experiment.ID == prevExp {
					exp = ""
				}
			}
		}
		prevGroup, prevImage, prevExp = r.Group, r.Image, r.Experiment.ID

		tw.AppendRow(table.Row{
			group, image, exp,
			r.Job.ID,
			r.Job.Backend,
			colorizeStatus(r.Job.Status),
			r.Job.BackendHandle,
			relativeTime(r.Job.CreatedAt),
		})
	}
	tw.Render()
}

// renderGroup prints the grouped view for one experiment group.
func renderGroup(out io.Writer, view *registry.GroupView) {
	fmt.Fprintf(out, "%s%s%s  created %s\n\n", colorBold, view.Group.Name, colorReset,
		view.Group.CreatedAt.Format("Mon, 02 Jan 2006 15:04:05 MST"))

	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Exp", "Module", "Args", "Job", "Backend", "Status", "Handle", "Created"})

	for _, ej := range view.Experiments {
		argv := dispatcher.ArgvFromExperiment(&ej.Experiment)
		for i, job := range ej.Jobs {
			expCol, moduleCol, argsCol := "", "", ""
			if i == 0 {
				expCol = fmt.Sprintf("%d", ej.Experiment.ID)
				moduleCol = ej.Experiment.ModuleSpec
				argsCol = strings.Join(argv, " ")
			}
			tw.AppendRow(table.Row{
				expCol, moduleCol, argsCol,
				job.ID,
				job.Backend,
				colorizeStatus(job.Status),
				job.BackendHandle,
				relativeTime(job.CreatedAt),
			})
		}
	}
	tw.Render()
}

// shortImage trims the registry prefix so tables stay narrow.
func shortImage(ref string) string {
	if idx := strings.LastIndex(ref, "/"); idx >= 0 {
		return ref[idx+1:]
	}
	return ref
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds ago", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
