package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/store"
	"github.com/sells-group/trigger-cli/internal/trigger"
)

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Manage trigger definitions",
	Long:  "Commands for applying, listing, running, enabling and disabling triggers.",
}

// triggerFile is the YAML layout accepted by apply and validate: either a
// single definition or a list under "triggers".
type triggerFile struct {
	Triggers []trigger.Definition `yaml:"triggers"`
}

// loadDefinitions parses one or more trigger definitions from raw YAML.
func loadDefinitions(raw []byte) ([]trigger.Definition, error) {
	var multi triggerFile
	if err := yaml.Unmarshal(raw, &multi); err != nil {
		return nil, eris.Wrap(err, "parse trigger file")
	}
	if len(multi.Triggers) > 0 {
		return multi.Triggers, nil
	}
	var single trigger.Definition
	if err := yaml.Unmarshal(raw, &single); err != nil {
		return nil, eris.Wrap(err, "parse trigger file")
	}
	if single.Name == "" && len(single.Blocks) == 0 {
		return nil, eris.New("trigger file contains no triggers")
	}
	return []trigger.Definition{single}, nil
}

func readDefinitions(path string) ([]trigger.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return loadDefinitions(raw)
}

// applyDefinitions creates definitions without an ID and updates the rest.
func applyDefinitions(ctx context.Context, svc *trigger.Service, defs []trigger.Definition, out io.Writer) error {
	for i, def := range defs {
		t, err := def.Trigger()
		if err != nil {
			return eris.Wrapf(err, "trigger %d (%s)", i, def.Name)
		}
		verb := "created"
		if t.ID == "" {
			err = svc.Create(ctx, t)
		} else {
			verb = "updated"
			err = svc.Update(ctx, t)
		}
		if err != nil {
			return eris.Wrapf(err, "trigger %d (%s)", i, def.Name)
		}
		_, _ = fmt.Fprintf(out, "%s %s %s\n", verb, t.ID, t.Name)
	}
	return nil
}

var triggersApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update triggers from a YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")

		defs, err := readDefinitions(path)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return applyDefinitions(ctx, newService(st), defs, cmd.OutOrStdout())
	},
}

var triggersValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a trigger file without storing it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("file")
		defs, err := readDefinitions(path)
		if err != nil {
			return err
		}
		svc := newService(nil)
		for i, def := range defs {
			t, err := def.Trigger()
			if err == nil {
				err = svc.Validate(t)
			}
			if err != nil {
				return eris.Wrapf(err, "trigger %d (%s)", i, def.Name)
			}
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d trigger(s) valid\n", len(defs))
		return nil
	},
}

var triggersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List triggers",
	RunE: withStore(func(cmd *cobra.Command, _ []string, st store.Store) error {
		ctx := cmd.Context()
		tenant, _ := cmd.Flags().GetString("tenant")
		activeOnly, _ := cmd.Flags().GetBool("active")
		ts, err := newService(st).List(ctx, store.TriggerFilter{TenantID: tenant, ActiveOnly: activeOnly})
		if err != nil {
			return eris.Wrap(err, "triggers list")
		}
		if len(ts) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No triggers found.")
			return nil
		}
		formatTriggersList(cmd.OutOrStdout(), ts)
		return nil
	}),
}

var triggersShowCmd = &cobra.Command{
	Use:   "show <trigger-id>",
	Short: "Print a trigger definition as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, args []string, st store.Store) error {
		t, err := newService(st).Get(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "triggers show")
		}
		raw, err := marshalDefinition(t)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}),
}

func marshalDefinition(t *model.Trigger) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(trigger.DefinitionOf(t)); err != nil {
		return nil, eris.Wrap(err, "encode trigger")
	}
	if err := enc.Close(); err != nil {
		return nil, eris.Wrap(err, "encode trigger")
	}
	return buf.Bytes(), nil
}

var triggersRunCmd = &cobra.Command{
	Use:   "run <trigger-id>",
	Short: "Run a trigger now and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "engine")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Runner.Run(ctx, args[0])
		if run != nil {
			formatRunsList(cmd.OutOrStdout(), []model.TriggerRun{*run})
		}
		if err != nil {
			return eris.Wrap(err, "triggers run")
		}
		return nil
	},
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <trigger-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, args []string, st store.Store) error {
			if err := newService(st).SetActive(cmd.Context(), args[0], active); err != nil {
				return eris.Wrapf(err, "triggers %s", use)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", args[0], use)
			return nil
		}),
	}
}

var (
	triggersEnableCmd  = setActiveCmd("enable", "Resume scheduling a trigger", true)
	triggersDisableCmd = setActiveCmd("disable", "Stop scheduling a trigger", false)
)

func init() {
	triggersApplyCmd.Flags().StringP("file", "f", "", "YAML file with one or more trigger definitions")
	_ = triggersApplyCmd.MarkFlagRequired("file")
	triggersValidateCmd.Flags().StringP("file", "f", "", "YAML file with one or more trigger definitions")
	_ = triggersValidateCmd.MarkFlagRequired("file")

	triggersListCmd.Flags().String("tenant", "", "filter by tenant ID")
	triggersListCmd.Flags().Bool("active", false, "only list active triggers")

	triggersCmd.AddCommand(triggersApplyCmd)
	triggersCmd.AddCommand(triggersValidateCmd)
	triggersCmd.AddCommand(triggersListCmd)
	triggersCmd.AddCommand(triggersShowCmd)
	triggersCmd.AddCommand(triggersRunCmd)
	triggersCmd.AddCommand(triggersEnableCmd)
	triggersCmd.AddCommand(triggersDisableCmd)
	rootCmd.AddCommand(triggersCmd)
}

// formatTriggersList writes a tabular list of triggers to w.
func formatTriggersList(out io.Writer, ts []model.Trigger) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTENANT\tACTIVE\tINTERVAL\tBLOCKS\tNEXT RUN")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t--------\t------\t--------")
	for _, t := range ts {
		next := "due"
		if t.NextRun != nil {
			next = t.NextRun.Format("2006-01-02 15:04")
		}
		name := t.Name
		if t.Emoji != "" {
			name = t.Emoji + " " + name
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\t%s\n",
			truncateID(t.ID), name, t.TenantID, t.Active, t.Interval.Round(time.Second), len(t.Blocks), next)
	}
	_ = w.Flush()
}
