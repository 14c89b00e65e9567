package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"copycat/types"
)

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}

func newTable(out io.Writer, header ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	return w
}

func printJobs(out io.Writer, jobs []types.CopyJob) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(out, "no jobs")
		return err
	}

	w := newTable(out, "ID", "STATUS", "PROGRESS", "SIZE", "CREATED", "JOB")
	for _, job := range jobs {
		fmt.Fprintf(w, "%d\t%s\t%.0f%%\t%s\t%s\t%s\n",
			job.ID,
			job.Status,
			job.ProgressPercent,
			humanize.IBytes(uint64(max(job.TotalBytes, 0))),
			humanize.Time(job.CreatedAt),
			job.Label(),
		)
	}
	return w.Flush()
}

func printJob(out io.Writer, job *types.CopyJob) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id:\t%d\n", job.ID)
	fmt.Fprintf(w, "status:\t%s\n", job.Status)
	fmt.Fprintf(w, "source:\t%s\n", job.SourcePath)
	fmt.Fprintf(w, "destination:\t%s\n", job.DestinationPath)
	fmt.Fprintf(w, "progress:\t%.0f%% (%s of %s)\n", job.ProgressPercent,
		humanize.IBytes(uint64(max(job.CopiedBytes, 0))), humanize.IBytes(uint64(max(job.TotalBytes, 0))))
	fmt.Fprintf(w, "created:\t%s\n", job.CreatedAt.Format(time.RFC3339))
	if job.ErrorMessage != nil {
		fmt.Fprintf(w, "error:\t%s\n", *job.ErrorMessage)
	}
	return w.Flush()
}

func printListing(out io.Writer, listing *types.BrowseResponse) error {
	w := newTable(out, "NAME", "SIZE", "MODIFIED")
	for _, item := range listing.Items {
		name := item.Name
		if item.IsDirectory {
			name += "/"
		}
		modified := time.Unix(0, int64(item.Modified*1e9))
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, item.SizeFormatted, humanize.Time(modified))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	shown := len(listing.Items)
	if listing.HasMore {
		_, err := fmt.Fprintf(out, "%d of %d entries, use --offset to see more\n", shown, listing.Total)
		return err
	}
	return nil
}
