package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/boltonhq/bolton/internal/models"
	"github.com/boltonhq/bolton/internal/store"
	"github.com/spf13/cobra"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Submit and inspect integration jobs",
	}

	cmd.AddCommand(newJobsAddCmd())
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsShowCmd())
	cmd.AddCommand(newJobsCancelCmd())
	return cmd
}

func newJobsAddCmd() *cobra.Command {
	var (
		configPath   string
		repo         string
		integrations []string
		addons       []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Submit a new integration job",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(configPath)
			if err != nil {
				return err
			}
			job, err := st.Create(store.CreateInput{
				Repo:         repo,
				Integrations: integrations,
				Addons:       addons,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created job %s for %s (%s)\n",
				job.ID, job.Repo, strings.Join(integrations, ", "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Bolton config file")
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "target repository (owner/name)")
	cmd.Flags().StringSliceVarP(&integrations, "integrations", "i", nil, "integration ids to apply")
	cmd.Flags().StringSliceVar(&addons, "addons", nil, "addon ids to apply")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("integrations")
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		configPath string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(configPath)
			if err != nil {
				return err
			}
			jobs, err := st.List(status)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREPO\tSTATUS\tINTEGRATIONS\tPR")
			for i := range jobs {
				job := &jobs[i]
				ids, _ := job.IntegrationIDs()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					job.ID, job.Repo, job.Status, strings.Join(ids, ","), job.PRURL)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Bolton config file")
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, processing, completed, error, cancelled)")
	return cmd
}

func newJobsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(configPath)
			if err != nil {
				return err
			}
			job, err := st.Get(args[0])
			if err != nil {
				return err
			}
			printJob(cmd, job)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Bolton config file")
	return cmd
}

func printJob(cmd *cobra.Command, job *models.Job) {
	out := cmd.OutOrStdout()
	ids, _ := job.IntegrationIDs()
	addons, _ := job.AddonIDs()

	fmt.Fprintf(out, "Job:          %s\n", job.ID)
	fmt.Fprintf(out, "Repo:         %s\n", job.Repo)
	fmt.Fprintf(out, "Status:       %s\n", job.Status)
	fmt.Fprintf(out, "Integrations: %s\n", strings.Join(ids, ", "))
	if len(addons) > 0 {
		fmt.Fprintf(out, "Addons:       %s\n", strings.Join(addons, ", "))
	}
	if job.Branch != "" {
		fmt.Fprintf(out, "Branch:       %s\n", job.Branch)
	}
	if job.PRURL != "" {
		fmt.Fprintf(out, "Pull request: %s\n", job.PRURL)
	}
	if job.FilesGenerated > 0 {
		fmt.Fprintf(out, "Files:        %d\n", job.FilesGenerated)
	}
	if job.Error != "" {
		fmt.Fprintf(out, "Error:        %s\n", job.Error)
	}
	if job.Explanation != "" {
		fmt.Fprintf(out, "Explanation:  %s\n", job.Explanation)
	}
	fmt.Fprintf(out, "Created:      %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "Completed:    %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}
}

func newJobsCancelCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := openStore(configPath)
			if err != nil {
				return err
			}
			job, err := st.RequestCancel(args[0])
			if err != nil {
				return err
			}
			if job.Status == models.StatusCancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", job.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s will stop at the next pipeline step\n", job.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Bolton config file")
	return cmd
}
