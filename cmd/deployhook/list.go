package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"deployhook/internal/container"
	"deployhook/internal/docker"
	"deployhook/internal/history"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List running preview containers",
	Long:  `List every container deployhook manages with its branch, commit, URL and state.`,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := connectDocker(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	logger := consoleLogger(cfg.LogLevel)
	containers, err := newOrchestrator(cfg, client, logger).List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	var latest map[string]*history.DeploymentRecord
	if cfg.HistoryDB != "" {
		hist, err := history.NewHistory(cfg.HistoryDB, logger)
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		defer hist.Close()

		if latest, err = hist.GetAllContainersStatus(cmd.Context()); err != nil {
			return fmt.Errorf("read deployment history: %w", err)
		}
	}

	printContainers(cmd.OutOrStdout(), containers, latest, time.Now())
	return nil
}

// printContainers writes one row per container. latest may be nil when
// history is disabled.
func printContainers(out io.Writer, containers []docker.ContainerState, latest map[string]*history.DeploymentRecord, now time.Time) {
	if len(containers) == 0 {
		fmt.Fprintln(out, "No managed containers")
		return
	}

	sort.Slice(containers, func(i, j int) bool { return containers[i].Name < containers[j].Name })

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tBRANCH\tCOMMIT\tURL\tKIND\tSTATE\tCREATED\tLAST DEPLOY")
	for _, c := range containers {
		sha := c.Labels[container.LabelSHA]
		if len(sha) > 7 {
			sha = sha[:7]
		}
		url := ""
		if sub := c.Labels[container.LabelSubdomain]; sub != "" {
			url = "http://" + sub
		}
		age := "-"
		if !c.Created.IsZero() {
			age = now.Sub(c.Created).Round(time.Minute).String() + " ago"
		}
		last := "-"
		if rec := latest[c.Name]; rec != nil {
			last = rec.Status
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Name, c.Labels[container.LabelBranch], sha, url, c.Labels[container.LabelKind], c.State, age, last)
	}
	tw.Flush()
}
