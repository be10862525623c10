package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/config"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/slots"
)

var (
	findDuration int
	findCount    int
	findDays     int
	findJSON     bool
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Print the next available slots and exit",
	RunE:  runFind,
}

func init() {
	findCmd.Flags().IntVar(&findDuration, "duration", 0, "Slot length in minutes (default from config)")
	findCmd.Flags().IntVar(&findCount, "count", 0, "Number of slots (default from config)")
	findCmd.Flags().IntVar(&findDays, "days", 0, "Search window in days from now (default from config)")
	findCmd.Flags().BoolVar(&findJSON, "json", false, "Print JSON instead of a table")
}

func runFind(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := findOptions{Duration: findDuration, Count: findCount, Days: findDays}.withDefaults(cfg)
	if err := opts.validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, cfg.GatewayTimeout()+5*time.Second)
	defer cancelTimeout()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.findSlots(ctx, opts, time.Now())
	if err != nil {
		return err
	}
	return printSlots(os.Stdout, out, findJSON)
}

type findOptions struct {
	Duration int
	Count    int
	Days     int
}

func (o findOptions) withDefaults(cfg *config.Config) findOptions {
	if o.Duration == 0 {
		o.Duration = cfg.Slots.DurationMinutes
	}
	if o.Count == 0 {
		o.Count = cfg.Slots.Count
	}
	if o.Days == 0 {
		o.Days = cfg.Slots.HorizonDays
	}
	return o
}

func (o findOptions) validate() error {
	if o.Count > slots.MaxSlotsNeeded {
		return &slots.InvalidRequestError{Field: "count", Value: o.Count, Reason: fmt.Sprintf("must be at most %d", slots.MaxSlotsNeeded)}
	}
	if o.Days <= 0 {
		return &slots.InvalidRequestError{Field: "days", Value: o.Days, Reason: "must be > 0"}
	}
	return nil
}

// findSlots searches [start, start+Days) with the app's policy.
func (a *app) findSlots(ctx context.Context, opts findOptions, start time.Time) ([]model.AvailableSlot, error) {
	start = start.In(a.policy.Location)
	return a.generator.Generate(ctx, slots.Request{
		DurationMinutes: opts.Duration,
		SlotsNeeded:     opts.Count,
		WindowStart:     start,
		WindowEnd:       start.AddDate(0, 0, opts.Days),
		Policy:          a.policy,
	})
}

func printSlots(w io.Writer, out []model.AvailableSlot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tMINUTES\tID")
	for _, s := range out {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			s.Start.Format("Mon 2006-01-02 15:04"), s.End.Format("15:04"), s.DurationMinutes, s.ID)
	}
	return tw.Flush()
}
