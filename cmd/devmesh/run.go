package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/devmesh"
	"github.com/hupe1980/devmesh/core"
)

type requestFlags struct {
	sessionID string
	userID    string
	project   string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sessionID, "session", "", "existing session id")
	cmd.Flags().StringVar(&f.userID, "user", "", "user id for a new session")
	cmd.Flags().StringVar(&f.project, "project", "", "project for a new session")
}

func orchestrateCmd(load loader) *cobra.Command {
	var (
		flags    requestFlags
		taskType string
	)

	cmd := &cobra.Command{
		Use:   "orchestrate <message>",
		Short: "Send a message to the orchestrator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := core.Request{core.KeyMessage: strings.Join(args, " ")}
			if taskType != "" {
				req[core.KeyTaskType] = taskType
			}
			return runOnce(cmd, load, flags, req, func(m *devmesh.Mesh) string { return m.Orchestrator.Name() })
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&taskType, "task-type", "", "task type, e.g. code_generation")
	return cmd
}

func executeCmd(load loader) *cobra.Command {
	var (
		flags requestFlags
		file  string
	)

	cmd := &cobra.Command{
		Use:   "execute [code]",
		Short: "Run a code snippet through the code execution agent",
		Long:  "Run a code snippet. The code is read from the argument, from --file, or from stdin when neither is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readCode(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			req := core.Request{core.KeyCode: src}
			return runOnce(cmd, load, flags, req, func(m *devmesh.Mesh) string { return m.Executor.Name() })
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "read code from file")
	return cmd
}

func readCode(stdin io.Reader, args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && args[0] != "-":
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// runOnce builds a mesh, runs one request against the agent picked by
// target and prints the result as JSON.
func runOnce(cmd *cobra.Command, load loader, flags requestFlags, req core.Request, target func(*devmesh.Mesh) string) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	mesh, err := devmesh.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = mesh.Close(ctx) }()

	sessionID, err := session(cmd, mesh, flags)
	if err != nil {
		return err
	}
	req[core.KeySessionID] = sessionID

	res, err := mesh.Runner.Invoke(ctx, target(mesh), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Status() == core.StatusError {
		return fmt.Errorf("%s", res.ErrorMessage())
	}
	return nil
}

func session(cmd *cobra.Command, mesh *devmesh.Mesh, flags requestFlags) (string, error) {
	if flags.sessionID != "" {
		return flags.sessionID, nil
	}
	user, project := flags.userID, flags.project
	if user == "" {
		user = "cli"
	}
	if project == "" {
		project = "default"
	}
	sess, err := mesh.State.Begin(cmd.Context(), user, project)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}
