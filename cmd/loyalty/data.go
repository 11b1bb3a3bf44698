package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "data",
	Short:   "Create the local database and run the startup sync",
	Long: `Create the local database if needed, write default metadata and pull
everything from the remote store.

Safe to run more than once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		e.app.Start(ctx)
		state := e.app.State()
		if state.Error != "" {
			fmt.Printf("%s %s\n", renderWarn("⚠"), state.Error)
		} else {
			fmt.Printf("%s Initialized %s\n", renderPass("✓"), cfg.DB.Path)
		}
		fmt.Printf("   Barcodes generated: %d\n", state.GeneratedBarcodes)
		fmt.Printf("   Clients: %d\n", state.TotalClients)
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:     "generate N",
	GroupID: "data",
	Short:   "Generate N new barcodes",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid count %q", args[0])
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		res := e.app.GenerateBarcodes(ctx, n)
		if err := report(res.OK, res.Message, res.Notice); err != nil {
			return err
		}
		for _, code := range res.Value {
			fmt.Printf("   %s\n", code)
		}
		return nil
	},
}

var assignCmd = &cobra.Command{
	Use:     "assign CODE",
	GroupID: "data",
	Short:   "Assign a barcode to a client",
	Long: `Assign an unassigned barcode to a client, identified by phone number.

A client is created when no client has the phone number. When --name or
--phone is missing and the terminal is interactive, a form asks for them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		phone, _ := cmd.Flags().GetString("phone")

		if name == "" || phone == "" {
			if !isInteractive() {
				return fmt.Errorf("--name and --phone are required")
			}
			var err error
			name, phone, err = promptClient(args[0], name, phone)
			if err != nil {
				return err
			}
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		res := e.app.AssignBarcode(ctx, args[0], name, phone)
		return report(res.OK, res.Message, res.Notice)
	},
}

var scanCmd = &cobra.Command{
	Use:     "scan CODE",
	GroupID: "data",
	Short:   "Record a cleaning for a barcode",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		res := e.app.ScanBarcode(ctx, args[0])
		if !res.OK {
			return report(false, res.Message, "")
		}

		if res.Value.IsDiscountEligible {
			fmt.Printf("%s %s\n", renderPass("★"), renderPass(res.Message))
		} else {
			fmt.Printf("%s %s\n", renderPass("✓"), res.Message)
		}
		fmt.Printf("   Total cleanings: %d\n", res.Value.Client.TotalCleanings)
		fmt.Printf("   Discounts used: %d\n", res.Value.Client.DiscountsUsed)
		printNotice(res.Notice)
		return nil
	},
}

var clientsCmd = &cobra.Command{
	Use:     "clients",
	GroupID: "data",
	Short:   "List clients",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		clients, err := e.repo.Clients(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(clients)
		}
		if len(clients) == 0 {
			fmt.Println(renderMuted("No clients yet"))
			return nil
		}

		rows := make([][]string, 0, len(clients))
		for _, c := range clients {
			rows = append(rows, []string{
				c.Name,
				c.PhoneNumber,
				strconv.Itoa(c.TotalCleanings),
				strconv.Itoa(c.DiscountsUsed),
				c.LastVisit.Local().Format("2006-01-02"),
			})
		}
		fmt.Println(newTable("Name", "Phone", "Cleanings", "Discounts", "Last Visit").Rows(rows...))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "data",
	Short:   "Show cleaning history",
	Long: `Show recorded cleanings, newest first.

--since accepts a date (2024-07-01) or natural language such as
"yesterday", "3 days ago" or "last monday".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		clientID, _ := cmd.Flags().GetString("client")
		sinceText, _ := cmd.Flags().GetString("since")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		var since time.Time
		if sinceText != "" {
			var err error
			if since, err = parseSince(sinceText, time.Now()); err != nil {
				return err
			}
		}

		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		var entries []*schema.CleaningHistory
		switch {
		case clientID != "":
			if entries, err = e.repo.ClientHistory(ctx, clientID); err != nil {
				return err
			}
			entries = filterSince(entries, since)
		case !since.IsZero():
			entries, err = e.repo.HistorySince(ctx, since)
		default:
			entries, err = e.repo.History(ctx)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println(renderMuted("No cleanings recorded"))
			return nil
		}

		names := make(map[string]string)
		if clients, err := e.repo.Clients(ctx); err == nil {
			for _, c := range clients {
				names[c.ID] = c.Name
			}
		}

		rows := make([][]string, 0, len(entries))
		for _, h := range entries {
			discount := ""
			if h.DiscountApplied {
				discount = fmt.Sprintf("%d%%", h.DiscountPercentage)
			}
			rows = append(rows, []string{
				h.CleaningDate.Local().Format("2006-01-02 15:04"),
				names[h.ClientID],
				h.BarcodeID,
				discount,
			})
		}
		fmt.Println(newTable("Date", "Client", "Barcode", "Discount").Rows(rows...))
		return nil
	},
}

func filterSince(entries []*schema.CleaningHistory, since time.Time) []*schema.CleaningHistory {
	if since.IsZero() {
		return entries
	}
	out := entries[:0]
	for _, h := range entries {
		if !h.CleaningDate.Before(since) {
			out = append(out, h)
		}
	}
	return out
}

// report prints the outcome of an app operation and any sync notice.
func report(ok bool, message, notice string) error {
	if !ok {
		return fmt.Errorf("%s", message)
	}
	fmt.Printf("%s %s\n", renderPass("✓"), message)
	printNotice(notice)
	return nil
}

func printNotice(notice string) {
	if notice != "" {
		fmt.Printf("%s %s\n", renderWarn("⚠"), notice)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

func init() {
	assignCmd.Flags().String("name", "", "Client name")
	assignCmd.Flags().String("phone", "", "Client phone number")

	clientsCmd.Flags().Bool("json", false, "Output as JSON")

	historyCmd.Flags().String("client", "", "Only show cleanings for this client id")
	historyCmd.Flags().String("since", "", `Only show cleanings on or after this time (e.g. "yesterday")`)
	historyCmd.Flags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(initCmd, generateCmd, assignCmd, scanCmd, clientsCmd, historyCmd)
}
