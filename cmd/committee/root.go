package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quorumlabs/committee/internal/config"
	"github.com/quorumlabs/committee/internal/models"
)

func newRootCmd(cfg *config.Config, log *logrus.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "committee",
		Short:         "Multi-agent investment committee",
		Long:          "committee runs a five-member analyst committee over a ticker: independent concurrent analyses, an optional structured debate, and a single consensus recommendation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAnalyzeCmd(cfg, log))
	root.AddCommand(newHealthCmd(cfg, log))
	return root
}

func newAnalyzeCmd(cfg *config.Config, log *logrus.Logger) *cobra.Command {
	var (
		runDebate bool
		rounds    int
		roles     []string
		illiquid  bool
	)

	cmd := &cobra.Command{
		Use:   "analyze TICKER",
		Short: "Run one committee analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := buildSystem(cfg, log)
			if err != nil {
				return err
			}
			defer sys.Close()

			req := models.AnalysisRequest{
				Subject: models.Subject{
					Ticker:    strings.ToUpper(args[0]),
					AssetType: models.AssetListed,
				},
				RunDebate: runDebate,
				MaxRounds: rounds,
			}
			if illiquid {
				req.Subject.AssetType = models.AssetIlliquid
			}
			for _, role := range roles {
				req.RequiredAgents = append(req.RequiredAgents, models.AgentRole(role))
			}

			report, err := sys.Orchestrator.RunAnalysis(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().BoolVar(&runDebate, "debate", false, "run the multi-round debate instead of a direct vote")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "override the debate round cap")
	cmd.Flags().StringSliceVar(&roles, "agents", nil, "restrict the committee to these roles")
	cmd.Flags().BoolVar(&illiquid, "illiquid", false, "treat the subject as an illiquid asset")
	return cmd
}

func newHealthCmd(cfg *config.Config, log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the process health and performance snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := buildSystem(cfg, log)
			if err != nil {
				return err
			}
			defer sys.Close()
			return printJSON(cmd, sys.Collector.Report(cfg.Metrics.Health))
		},
	}
}

// serveMetrics exposes the prometheus endpoint when configured. Errors are
// logged, never fatal: metrics must not take the committee down.
func serveMetrics(addr string, handler http.Handler, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", addr).Info("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics endpoint failed")
		}
	}()
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
