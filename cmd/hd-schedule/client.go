package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/renalcare/hdschedule/internal/config"
	"github.com/renalcare/hdschedule/internal/hdclient"
	"github.com/renalcare/hdschedule/internal/platform/db"
	"github.com/renalcare/hdschedule/internal/platform/eventbus"
	"github.com/renalcare/hdschedule/internal/scheduler"
	"github.com/renalcare/hdschedule/pkg/slots"
)

// session is the client side of one CLI invocation.
type session struct {
	cfg    *config.Config
	bus    *eventbus.Bus
	client *hdclient.Client
	logger zerolog.Logger
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := zerolog.Nop()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
	}

	var tokens hdclient.TokenSource = hdclient.StaticToken(cfg.ScheduleToken)
	if cfg.ScheduleTokenFile != "" {
		tokens = hdclient.FileToken(cfg.ScheduleTokenFile)
	}

	bus := eventbus.New()
	return &session{
		cfg: cfg,
		bus: bus,
		client: hdclient.New(cfg.ScheduleURL,
			hdclient.WithTokenSource(tokens),
			hdclient.WithNotifier(bus),
			hdclient.WithLogger(logger),
		),
		logger: logger,
	}, nil
}

func (s *session) dayView(clock func() time.Time) *scheduler.DayView {
	return scheduler.NewDayView(s.client, s.bus, scheduler.WithLogger(s.logger), scheduler.WithClock(clock))
}

func clientCmd(use, short string, args cobra.PositionalArgs, run func(cmd *cobra.Command, s *session, args []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			return run(cmd, s, args)
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "Log client activity to stderr")
	return cmd
}

// dateArg parses an optional YYYY-MM-DD argument, defaulting to today.
func dateArg(args []string, now func() time.Time) (slots.Date, error) {
	if len(args) == 0 || args[0] == "" {
		return slots.Today(now), nil
	}
	d, err := slots.ParseKey(args[0])
	if err != nil {
		return slots.Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", args[0])
	}
	return d, nil
}

func slotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slots",
		Short: "List the bookable dialysis windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s %s\n", "SLOT", "WINDOW")
			for _, s := range slots.DefaultSlots() {
				fmt.Fprintf(out, "%-6s %s\n", s.ID, s.Label)
			}
			return nil
		},
	}
}

func dayCmd() *cobra.Command {
	return clientCmd("day [YYYY-MM-DD]", "Show one day's slots", cobra.MaximumNArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			d, err := dateArg(args, time.Now)
			if err != nil {
				return err
			}
			view := s.dayView(time.Now)
			if err := view.SetDate(cmd.Context(), d); err != nil {
				return fmt.Errorf("load %s: %w", d, err)
			}
			printDay(cmd.OutOrStdout(), d, view.Slots())
			return nil
		})
}

func weekCmd() *cobra.Command {
	return clientCmd("week [YYYY-MM-DD]", "Show the Sunday-Saturday week around a date", cobra.MaximumNArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			d, err := dateArg(args, time.Now)
			if err != nil {
				return err
			}
			view := scheduler.NewWeekView(s.client, s.bus, scheduler.WithLogger(s.logger))
			if err := view.SetCenter(cmd.Context(), d); err != nil {
				return err
			}
			printWeek(cmd.OutOrStdout(), view.Days(), view.Grid(), view.FailedDays())
			return nil
		})
}

func bookCmd() *cobra.Command {
	cmd := clientCmd("book", "Book a slot for a patient", cobra.NoArgs,
		func(cmd *cobra.Command, s *session, args []string) error {
			phn, _ := cmd.Flags().GetString("phn")
			name, _ := cmd.Flags().GetString("name")
			slotID, _ := cmd.Flags().GetString("slot")
			date, _ := cmd.Flags().GetString("date")

			d, err := dateArg([]string{date}, time.Now)
			if err != nil {
				return err
			}
			view := s.dayView(time.Now)
			if err := view.SetDate(cmd.Context(), d); err != nil {
				return fmt.Errorf("load %s: %w", d, err)
			}
			view.SelectPatient(scheduler.Patient{PHN: phn, Name: name})
			view.SelectSlot(slotID)

			appt, err := view.Book(cmd.Context())
			if err != nil {
				return noticeError(view.LastNotice())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Booked %s on %s for %s (id %s)\n", appt.SlotID, appt.Date, appt.PHN, appt.ID)
			printDay(cmd.OutOrStdout(), d, view.Slots())
			return nil
		})
	cmd.Flags().String("phn", "", "Patient health number")
	cmd.Flags().String("name", "", "Patient name")
	cmd.Flags().String("slot", "", "Slot start time, e.g. 10:00")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD, default today)")
	return cmd
}

func cancelCmd() *cobra.Command {
	cmd := clientCmd("cancel <appointment-id>", "Cancel an appointment", cobra.ExactArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			d, err := dateArg([]string{date}, time.Now)
			if err != nil {
				return err
			}
			view := s.dayView(time.Now)
			_ = view.SetDate(cmd.Context(), d)

			if err := view.Cancel(cmd.Context(), args[0]); err != nil {
				return noticeError(view.LastNotice())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
			printDay(cmd.OutOrStdout(), d, view.Slots())
			return nil
		})
	cmd.Flags().String("date", "", "Date to show afterwards (YYYY-MM-DD, default today)")
	return cmd
}

func watchCmd() *cobra.Command {
	return clientCmd("watch [YYYY-MM-DD]", "Follow a day's schedule as other workstations change it", cobra.MaximumNArgs(1),
		func(cmd *cobra.Command, s *session, args []string) error {
			d, err := dateArg(args, time.Now)
			if err != nil {
				return err
			}
			wsURL, err := s.cfg.WebsocketURL()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchDay(ctx, cmd.OutOrStdout(), s, d, wsURL)
		})
}

// watchDay prints the day, then reprints it after every change to that date
// until ctx ends.
func watchDay(ctx context.Context, out io.Writer, s *session, d slots.Date, wsURL string) error {
	view := s.dayView(time.Now)
	if err := view.SetDate(ctx, d); err != nil {
		return fmt.Errorf("load %s: %w", d, err)
	}
	printDay(out, d, view.Slots())

	sub := s.bus.Subscribe(16, eventbus.TopicScheduleChanged)
	defer sub.Close()

	watchErr := make(chan error, 1)
	go func() { watchErr <- s.client.Watch(ctx, wsURL, s.bus) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case evt := <-sub.C():
			if evt.Date != d.Key() {
				continue
			}
			if err := view.Reload(ctx); err != nil {
				fmt.Fprintf(out, "reload failed: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "\n%s %s %s\n", evt.Timestamp.Format("15:04:05"), evt.Action, evt.ResourceID)
			printDay(out, d, view.Slots())
		}
	}
}

func noticeError(n scheduler.Notice, ok bool) error {
	if !ok {
		return fmt.Errorf("request failed")
	}
	return fmt.Errorf("%s: %s", n.Title, n.Description)
}

func printDay(out io.Writer, d slots.Date, rows []scheduler.SlotView) {
	fmt.Fprintf(out, "%s (%s)\n", d.Key(), d.Weekday())
	fmt.Fprintf(out, "%-6s %-14s %-10s %-12s %-20s %s\n", "SLOT", "WINDOW", "STATUS", "PHN", "PATIENT", "ID")
	for _, r := range rows {
		phn, name, id := "", "", ""
		if a := r.Appointment; a != nil {
			phn, name, id = a.PHN, a.PatientName, a.ID.String()
		}
		fmt.Fprintf(out, "%-6s %-14s %-10s %-12s %-20s %s\n", r.Slot.ID, r.Slot.Label, r.State, phn, name, id)
	}
}

func printWeek(out io.Writer, days [7]slots.Date, grid [][]scheduler.Cell, failed []string) {
	fmt.Fprintf(out, "%-6s", "SLOT")
	for _, d := range days {
		fmt.Fprintf(out, " %-12s", d.Weekday().String()[:3]+" "+d.Key()[5:])
	}
	fmt.Fprintln(out)
	for _, row := range grid {
		if len(row) == 0 {
			continue
		}
		fmt.Fprintf(out, "%-6s", row[0].Slot.ID)
		for _, cell := range row {
			mark := "."
			if cell.Taken() {
				mark = cell.Appointment.PHN
				if len(mark) > 12 {
					mark = mark[:12]
				}
			}
			fmt.Fprintf(out, " %-12s", mark)
		}
		fmt.Fprintln(out)
	}
	if len(failed) > 0 {
		fmt.Fprintf(out, "could not load: %s\n", strings.Join(failed, ", "))
	}
}

func printMigrations(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
