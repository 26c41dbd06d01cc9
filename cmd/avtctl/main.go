// Command avtctl is the operator CLI for an avtd gateway: registering,
// starting, stopping, and inspecting projects over its HTTP API.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type project struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Status string `json:"status"`
}

func main() {
	root := &cobra.Command{
		Use:   "avtctl",
		Short: "Operate an avtd gateway's registered projects",
	}

	root.AddCommand(newProjectCmd())
	root.AddCommand(newDoctorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects registered with the gateway",
	}
	cmd.AddCommand(newProjectAddCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectStartCmd())
	cmd.AddCommand(newProjectStopCmd())
	cmd.AddCommand(newProjectRemoveCmd())
	return cmd
}

func newProjectAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <path>",
		Short: "Register a new project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			var p project
			if err := client.do("POST", "/api/projects", map[string]string{
				"name": args[0], "path": args[1],
			}, &p); err != nil {
				return err
			}
			fmt.Printf("registered project %s (%s)\n", p.ID, p.Name)
			return nil
		},
	}
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			var projects []project
			if err := client.do("GET", "/api/projects", nil, &projects); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPATH")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, p.Path)
			}
			return w.Flush()
		},
	}
}

func newProjectStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a project's MCP servers and job runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			var p project
			if err := client.do("POST", "/api/projects/"+args[0]+"/start", nil, &p); err != nil {
				return err
			}
			fmt.Printf("project %s status: %s\n", p.ID, p.Status)
			return nil
		},
	}
}

func newProjectStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a project's MCP servers and job runner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			var p project
			if err := client.do("POST", "/api/projects/"+args[0]+"/stop", nil, &p); err != nil {
				return err
			}
			fmt.Printf("project %s status: %s\n", p.ID, p.Status)
			return nil
		},
	}
}

func newProjectRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Stop (if running) and deregister a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			if err := client.do("DELETE", "/api/projects/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("removed project %s\n", args[0])
			return nil
		},
	}
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check gateway connectivity and every registered project's process health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var projects []project
			if err := client.do("GET", "/api/projects", nil, &projects); err != nil {
				return fmt.Errorf("cannot reach gateway at %s: %w", client.baseURL, err)
			}
			fmt.Printf("gateway reachable at %s, %d project(s) registered\n", client.baseURL, len(projects))

			for _, p := range projects {
				var health map[string]interface{}
				if err := client.do("GET", "/api/projects/"+p.ID+"/health", nil, &health); err != nil {
					fmt.Printf("  %s (%s): health check failed: %v\n", p.Name, p.ID, err)
					continue
				}
				fmt.Printf("  %s (%s): %v\n", p.Name, p.ID, health)
			}
			return nil
		},
	}
}
