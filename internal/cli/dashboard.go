package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/livedb/internal/dashboard"
	"github.com/mesh-intelligence/livedb/pkg/watch"
)

func newDashboardCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "dashboard <doctor-id>",
		Short: "Show a doctor's name, speciality and earnings live",
		Long: `Dashboard prints the doctor's earnings screen whenever it changes. Type
day, month or year on stdin to switch the earnings period.

Example:
  livedb dashboard 7 --period month`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			first, err := dashboard.ParsePeriod(period)
			if err != nil {
				return userError(err)
			}
			backend, err := openBackend()
			if err != nil {
				return err
			}
			defer backend.Detach()

			d, err := dashboard.New(watch.New(backend, watch.WithLogger(logger)), args[0], dashboard.WithLogger(logger))
			if err != nil {
				return userError(err)
			}
			defer d.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			go func() {
				if err := d.Select(first); err != nil {
					return
				}
				readPeriods(cmd.InOrStdin(), d, cmd.ErrOrStderr())
			}()

			out := cmd.OutOrStdout()
			return streamDone(ctx, d.Watch(ctx, func(v dashboard.View) {
				printView(out, v)
			}))
		},
	}
	cmd.Flags().StringVar(&period, "period", "day", "initial earnings period: day, month or year")
	return cmd
}

// readPeriods selects each period typed on r until r ends or the dashboard
// closes.
func readPeriods(r io.Reader, d *dashboard.Dashboard, errOut io.Writer) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p, err := dashboard.ParsePeriod(line)
		if err != nil {
			fmt.Fprintln(errOut, err)
			continue
		}
		if err := d.Select(p); err != nil {
			return
		}
	}
}

func printView(w io.Writer, v dashboard.View) {
	if flags.jsonMode {
		line, _ := json.Marshal(map[string]string{
			"name":       v.Name.String(),
			"speciality": v.Speciality.String(),
			"earned":     v.Earned.String(),
			"period":     v.Earned.Key,
		})
		fmt.Fprintln(w, string(line))
		return
	}
	fmt.Fprintf(w, "name: %s | speciality: %s | %s: %s\n",
		orDash(v.Name.String()), orDash(v.Speciality.String()), orDash(v.Earned.Key), orDash(v.Earned.String()))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
