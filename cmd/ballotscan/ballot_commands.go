package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ballotscan/internal/ipc"
)

func newBallotCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStateCommand(ctx),
		newReviewCommand(ctx),
		newAcceptCommand(ctx),
		newCalibrateCommand(ctx),
		newPollsCommand(ctx),
		newCardCommand(ctx),
		newHealthCommand(ctx),
		newHistoryCommand(ctx),
	}
}

func newStateCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the current ballot state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.State()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.State.String())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print state as JSON")
	return cmd
}

func newReviewCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Show the review screen for a sheet awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Review()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !resp.Pending || resp.Content == nil {
					fmt.Fprintln(out, "No sheet awaiting review")
					return nil
				}
				content := resp.Content
				fmt.Fprintln(out, content.Title)
				for _, line := range content.Body {
					fmt.Fprintln(out, line)
				}
				for _, contest := range content.Contests {
					fmt.Fprintf(out, "  - %s\n", contest)
				}
				if content.Confirm != "" {
					fmt.Fprintln(out)
					fmt.Fprintln(out, content.Confirm)
				}
				actions := make([]string, 0, len(content.Actions))
				for _, action := range content.Actions {
					actions = append(actions, string(action))
				}
				fmt.Fprintf(out, "Actions: %s\n", strings.Join(actions, ", "))
				return nil
			})
		},
	}
}

func newAcceptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "accept",
		Short: "Cast the sheet held for review as marked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Accept()
				if err != nil {
					return fmt.Errorf("accept with errors: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sheet accepted; ballot state %s\n", resp.State.String())
				return nil
			})
		},
	}
}

func newCalibrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "Run a manual scanner calibration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Calibrate(); err != nil {
					return fmt.Errorf("calibrate: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Calibration complete")
				return nil
			})
		},
	}
}

func newPollsCommand(ctx *commandContext) *cobra.Command {
	pollsCmd := &cobra.Command{
		Use:   "polls",
		Short: "Open or close the polls",
	}
	for _, opt := range []struct {
		use  string
		open bool
	}{
		{"open", true},
		{"close", false},
	} {
		open := opt.open
		pollsCmd.AddCommand(&cobra.Command{
			Use:   opt.use,
			Short: fmt.Sprintf("%s the polls", strings.ToUpper(opt.use[:1])+opt.use[1:]),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := client.SetPolls(open)
					if err != nil {
						return err
					}
					if resp.PollsOpen {
						fmt.Fprintln(cmd.OutOrStdout(), "Polls open")
					} else {
						fmt.Fprintln(cmd.OutOrStdout(), "Polls closed")
					}
					return nil
				})
			},
		})
	}
	return pollsCmd
}

func newCardCommand(ctx *commandContext) *cobra.Command {
	cardCmd := &cobra.Command{
		Use:   "card",
		Short: "Report an operator card inserted or removed",
	}
	for _, opt := range []struct {
		use      string
		inserted bool
	}{
		{"insert", true},
		{"remove", false},
	} {
		inserted := opt.inserted
		cardCmd.AddCommand(&cobra.Command{
			Use:   opt.use,
			Short: fmt.Sprintf("Mark the operator card as %sed", strings.TrimSuffix(opt.use, "e")),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := client.SetCard(inserted)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Operator card inserted: %s\n", yesNo(resp.CardInserted))
					return nil
				})
			},
		})
	}
	return cardCmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show printer and power status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Health()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				h := resp.Health
				gate := h.Gate
				if gate == "" {
					gate = "none"
				}
				banners := "none"
				if len(h.Banners) > 0 {
					banners = strings.Join(h.Banners, ", ")
				}
				battery := "absent"
				if h.BatteryPresent {
					battery = strconv.Itoa(h.BatteryPercent) + "%"
				}
				rows := [][]string{
					{"Sampled", yesNo(h.Sampled)},
					{"Printer", yesNo(h.PrinterConnected)},
					{"Charger", yesNo(h.ChargerConnected)},
					{"Battery", battery},
					{"Banners", banners},
					{"Gate", gate},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Check", "Value"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print health as JSON")
	return cmd
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List ballot state transitions since the daemon started",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Transitions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No transitions recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Transitions))
				for _, tr := range resp.Transitions {
					rows = append(rows, []string{
						strconv.FormatInt(tr.ID, 10),
						tr.OccurredAt.Local().Format(time.DateTime),
						tr.From,
						tr.To,
						tr.Event,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Time", "From", "To", "Event"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of transitions to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print transitions as JSON")
	return cmd
}
