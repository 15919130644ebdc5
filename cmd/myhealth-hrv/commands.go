package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"myhealth-hrv/internal/compliance"
	"myhealth-hrv/internal/models"
	"myhealth-hrv/internal/pipeline"
	"myhealth-hrv/internal/report"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// localLayout 命令行中本地时间的格式（参考时区）
const localLayout = "2006-01-02 15:04"

func newRunOnceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Clean and index a single 5-minute window, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()
			defer svc.Stop(ctx)

			var windowStart time.Time
			if raw, _ := cmd.Flags().GetString("window-start"); raw != "" {
				windowStart, err = parseLocal(raw, svc.Config().Location())
				if err != nil {
					return err
				}
			}

			summary, err := svc.RunOnce(ctx, time.Now(), windowStart)
			if err != nil {
				return err
			}
			if err := printJSON(summary); err != nil {
				return err
			}
			if summary.Err != nil {
				return fmt.Errorf("%d subject(s) failed", summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().String("window-start", "", `window start in the reference zone ("YYYY-MM-DD HH:MM"), default: latest completed window`)
	return cmd
}

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Delete and recompute HRV indices over a historical range",
		Long: `Deletes HRV index rows in the range, then replays cleaning and indexing
over every 5-minute window. Use exactly one of --day, --from/--to or --all.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, _ := cmd.Flags().GetString("day")
			fromRaw, _ := cmd.Flags().GetString("from")
			toRaw, _ := cmd.Flags().GetString("to")
			all, _ := cmd.Flags().GetBool("all")

			modes := 0
			for _, set := range []bool{day != "", fromRaw != "" || toRaw != "", all} {
				if set {
					modes++
				}
			}
			if modes != 1 {
				return errors.New("use exactly one of --day, --from/--to or --all")
			}

			svc, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()
			defer svc.Stop(ctx)

			var summary pipeline.BackfillSummary
			switch {
			case day != "":
				summary, err = svc.Backfill().RunDay(ctx, day)
			case all:
				summary, err = svc.Backfill().RunAll(ctx)
			default:
				loc := svc.Config().Location()
				from, perr := parseLocal(fromRaw, loc)
				if perr != nil {
					return perr
				}
				to, perr := parseLocal(toRaw, loc)
				if perr != nil {
					return perr
				}
				if !to.After(from) {
					return fmt.Errorf("--to must be after --from")
				}
				summary, err = svc.Backfill().Run(ctx, from, to)
			}
			if err != nil {
				return err
			}

			log.Info("Backfill finished",
				zap.Int("windows", summary.Windows),
				zap.Int64("deleted", summary.Deleted),
				zap.Int("success_count", summary.Written),
				zap.Int("skipped_insufficient", summary.Sparse),
				zap.Int("error_count", summary.Failed),
				zap.Int("corrected", summary.Corrected),
			)
			if summary.Err != nil {
				return fmt.Errorf("backfill finished with %d failed subject window(s): %w", summary.Failed, summary.Err)
			}
			return nil
		},
	}
	cmd.Flags().String("day", "", "calendar day in the reference zone (YYYY-MM-DD)")
	cmd.Flags().String("from", "", `range start ("YYYY-MM-DD HH:MM", reference zone)`)
	cmd.Flags().String("to", "", `range end, exclusive ("YYYY-MM-DD HH:MM", reference zone)`)
	cmd.Flags().Bool("all", false, "recompute the whole range covered by raw samples")
	return cmd
}

func newComplianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Report the share of time buckets with at least one sample",
		Long: `Computes the compliance (coverage) rate for one or more subjects.
Subjects are given as --account <device account id> or --profile <username>:<YYYY-MM-DD>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, _ := cmd.Flags().GetStringSlice("account")
			profiles, _ := cmd.Flags().GetStringSlice("profile")
			subjects, err := parseSubjects(accounts, profiles)
			if err != nil {
				return err
			}

			q := compliance.Query{}
			q.StartDate, _ = cmd.Flags().GetString("start-date")
			q.EndDate, _ = cmd.Flags().GetString("end-date")
			q.StartTime, _ = cmd.Flags().GetString("start-time")
			q.EndTime, _ = cmd.Flags().GetString("end-time")
			q.BucketMinutes, _ = cmd.Flags().GetInt("bucket")
			dashboard, _ := cmd.Flags().GetBool("dashboard")
			xlsxPath, _ := cmd.Flags().GetString("xlsx")

			svc, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()
			defer svc.Stop(ctx)

			calc := svc.Compliance()

			if dashboard {
				var out []compliance.DashboardStats
				for _, subj := range subjects {
					stats, err := calc.Dashboard(ctx, subj, time.Now(), q.StartTime, q.EndTime)
					if err != nil {
						return fmt.Errorf("failed to compute dashboard for %s: %w", subj, err)
					}
					out = append(out, stats)
				}
				return printJSON(out)
			}

			if q.StartDate == "" || q.EndDate == "" {
				return errors.New("--start-date and --end-date are required")
			}

			items := make([]report.SubjectCompliance, 0, len(subjects))
			for _, subj := range subjects {
				res, err := calc.CalculateDaily(ctx, subj, q)
				if err != nil {
					return fmt.Errorf("failed to compute compliance for %s: %w", subj, err)
				}
				items = append(items, report.SubjectCompliance{Subject: subj.String(), Result: res})
			}

			if xlsxPath != "" {
				data, err := report.GenerateComplianceExcel(items)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", xlsxPath, err)
				}
				log.Info("Compliance report written", zap.String("path", xlsxPath), zap.Int("subjects", len(items)))
				return nil
			}
			return printJSON(items)
		},
	}
	cmd.Flags().StringSlice("account", nil, "device account id (repeatable)")
	cmd.Flags().StringSlice("profile", nil, "username:YYYY-MM-DD (repeatable)")
	cmd.Flags().String("start-date", "", "first day, inclusive (YYYY-MM-DD)")
	cmd.Flags().String("end-date", "", "last day, inclusive (YYYY-MM-DD)")
	cmd.Flags().String("start-time", "00:00", "daily window start (HH:MM, inclusive)")
	cmd.Flags().String("end-time", "24:00", "daily window end (HH:MM, exclusive, 24:00 allowed)")
	cmd.Flags().Int("bucket", 0, "bucket size in minutes (0 = COMPLIANCE_BUCKET_MINUTES)")
	cmd.Flags().Bool("dashboard", false, "print today / yesterday / last-7-days rates instead")
	cmd.Flags().String("xlsx", "", "write an Excel report to this path instead of JSON")
	return cmd
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "List stored 5-minute HRV index rows for one subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, _ := cmd.Flags().GetString("profile")
			fromRaw, _ := cmd.Flags().GetString("from")
			toRaw, _ := cmd.Flags().GetString("to")
			xlsxPath, _ := cmd.Flags().GetString("xlsx")

			subjects, err := parseSubjects(nil, []string{profile})
			if err != nil {
				return err
			}
			if fromRaw == "" || toRaw == "" {
				return errors.New("--from and --to are required")
			}

			svc, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()
			defer svc.Stop(ctx)

			loc := svc.Config().Location()
			from, err := parseLocal(fromRaw, loc)
			if err != nil {
				return err
			}
			to, err := parseLocal(toRaw, loc)
			if err != nil {
				return err
			}

			rows, err := svc.Indices(ctx, subjects[0].Profile, from, to)
			if err != nil {
				return err
			}

			if xlsxPath != "" {
				data, err := report.GenerateHRVIndexExcel(rows, loc)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", xlsxPath, err)
				}
				log.Info("HRV index report written", zap.String("path", xlsxPath), zap.Int("rows", len(rows)))
				return nil
			}
			return printJSON(rows)
		},
	}
	cmd.Flags().String("profile", "", "username:YYYY-MM-DD")
	cmd.Flags().String("from", "", `range start ("YYYY-MM-DD HH:MM", reference zone)`)
	cmd.Flags().String("to", "", `range end, exclusive ("YYYY-MM-DD HH:MM", reference zone)`)
	cmd.Flags().String("xlsx", "", "write an Excel report to this path instead of JSON")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file...]",
		Short: "Load Polar webhook JSON payloads into the raw sample table",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()
			defer svc.Stop(ctx)

			var total, rejected int
			for _, path := range args {
				body, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}

				samples, itemErrs, err := models.DecodePolarBatch(body)
				if err != nil {
					return fmt.Errorf("failed to decode %s: %w", path, err)
				}
				for _, e := range itemErrs {
					log.Warn("Dropping malformed sample", zap.String("file", path), zap.Error(e))
				}
				rejected += len(itemErrs)

				n, err := svc.RawSamples().InsertBatch(ctx, samples)
				if err != nil {
					return fmt.Errorf("failed to import %s: %w", path, err)
				}
				total += int(n)
			}

			log.Info("Import finished",
				zap.Int("files", len(args)),
				zap.Int("imported", total),
				zap.Int("rejected", rejected),
			)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the sample, cleaned sample and HRV index tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()
			defer svc.Stop(ctx)

			return svc.Migrate(ctx)
		},
	}
}

// parseLocal 按参考时区解析 "YYYY-MM-DD HH:MM"，也接受 RFC3339
func parseLocal(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(localLayout, raw, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want %q or RFC3339", raw, localLayout)
	}
	return t, nil
}

// parseSubjects 解析 --account / --profile 参数
func parseSubjects(accounts, profiles []string) ([]compliance.Subject, error) {
	var subjects []compliance.Subject
	for _, a := range accounts {
		subjects = append(subjects, compliance.DeviceAccount(a))
	}
	for _, p := range profiles {
		username, dob, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --profile %q: want username:YYYY-MM-DD", p)
		}
		if _, err := time.Parse("2006-01-02", dob); err != nil {
			return nil, fmt.Errorf("invalid --profile %q: date of birth must be YYYY-MM-DD", p)
		}
		subjects = append(subjects, compliance.Profile(username, dob))
	}
	if len(subjects) == 0 {
		return nil, errors.New("at least one --account or --profile is required")
	}
	for _, s := range subjects {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return subjects, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
