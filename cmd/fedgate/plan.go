package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/planner"
)

type planOptions struct {
	supergraph string
	query      string
	operation  string
	json       bool
}

func newPlanCommand() *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the query plan of an operation",
		Long: `Plan an operation against the supergraph and print the plan.
The operation is read from --query, or from stdin when --query is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.supergraph, "supergraph", "", "composed supergraph SDL file")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "GraphQL operation")
	cmd.Flags().StringVar(&opts.operation, "operation", "", "operation name, for documents with several")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the plan as JSON")
	_ = cmd.MarkFlagRequired("supergraph")
	return cmd
}

func runPlan(cmd *cobra.Command, opts *planOptions) error {
	s, err := loadSupergraph(opts.supergraph)
	if err != nil {
		return err
	}
	query := opts.query
	if query == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read query: %w", err)
		}
		query = string(data)
	}
	if query == "" {
		return errors.New("no operation given")
	}

	doc, errs := language.LoadQuery(s.AST(), query)
	if len(errs) > 0 {
		return errs
	}
	p, err := planner.New().Plan(cmd.Context(), s, doc, opts.operation)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.json {
		data, err := plan.EncodeIndent(p)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	_, err = fmt.Fprintln(out, plan.Format(p))
	return err
}
