package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"complylaw/internal/domain"
	"complylaw/internal/live"
)

const localTenant = "local"

var scanCmd = &cobra.Command{
	Use:   "scan <domain>",
	Short: "Run one scan locally and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, _ := cmd.Flags().GetString("tier")
		asJSON, _ := cmd.Flags().GetBool("json")

		local := cfg
		local.DatabaseURL = ""
		local.Live.MQTTBroker = ""
		local.Intake.PerHour = 0
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			local.Scan.VerboseFindings = true
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		a, err := buildApp(ctx, local, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		a.mem.SetFirm(domain.Firm{ID: localTenant, Name: "local", Tier: domain.Tier(tier)})

		job, err := a.scans.Enqueue(ctx, localTenant, "", args[0])
		if err != nil {
			return err
		}

		var wg sync.WaitGroup
		unsubscribe := func() {}
		if !asJSON {
			var events <-chan []byte
			events, unsubscribe = a.hub.Subscribe(live.ScanTopic(job.PublicID))
			wg.Add(1)
			go func() {
				defer wg.Done()
				printProgress(events)
			}()
		}

		runErr := a.runner.ProcessInline(ctx, job.ID)
		unsubscribe()
		wg.Wait()

		job, err = a.scans.Get(context.WithoutCancel(ctx), localTenant, job.PublicID)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return err
			}
		} else {
			printReport(job)
		}
		return runErr
	},
}

func init() {
	scanCmd.Flags().String("tier", string(domain.TierFree), "check tier: free, pro or enterprise")
	scanCmd.Flags().Bool("json", false, "print the scan record as JSON")
	scanCmd.Flags().BoolP("verbose", "v", false, "keep passing findings")
}

func printProgress(events <-chan []byte) {
	for data := range events {
		var ev live.ProgressEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type != live.TypeProgress {
			continue
		}
		fmt.Printf("%s %3d%% %s\n", colorInfo("→"), ev.Progress, ev.Step)
	}
}

func printReport(job domain.ScanJob) {
	fmt.Println()
	fmt.Printf("%s %s (%s tier): %s\n", colorBold("Scan"), job.Domain, job.Tier, job.Status)
	if job.Status != domain.StatusCompleted {
		if job.FailureReason != "" {
			fmt.Printf("%s %s\n", colorError("✗"), job.FailureReason)
		}
		return
	}
	fmt.Printf("Grade: %s  Risk: %.1f%%  Issues: %d\n\n", formatGrade(*job.Grade), *job.RiskScore, len(job.Findings))
	for _, f := range job.Findings {
		line := fmt.Sprintf("  [%s] %s", formatFindingStatus(f.Status), f.Title)
		if f.Details != "" {
			line += " - " + f.Details
		}
		fmt.Println(line)
	}
	if len(job.BreachAlerts) > 0 {
		fmt.Printf("\n%s %s\n", colorError("Breach alerts:"), strings.Join(job.BreachAlerts, ", "))
	}
	if len(job.Recommendations) > 0 {
		fmt.Println()
		for _, r := range job.Recommendations {
			fmt.Printf("  %s %s (%s)\n", colorWarn("•"), r.Title, r.Priority)
		}
	}
}
