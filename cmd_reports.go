package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

var (
	reportsCmd = &cobra.Command{
		Use:   "reports",
		Short: "Read-only circulation reports (admin)",
	}
	reportActivityCmd = &cobra.Command{
		Use:   "activity",
		Short: "Loans per user, busiest borrowers first",
		Args:  cobra.NoArgs,
		RunE:  runReportActivity,
	}
	reportBooksCmd = &cobra.Command{
		Use:   "books",
		Short: "Book popularity and category totals",
		Args:  cobra.NoArgs,
		RunE:  runReportBooks,
	}
	reportDailyCmd = &cobra.Command{
		Use:   "daily",
		Short: "Today's issues, returns, registrations and fines",
		Args:  cobra.NoArgs,
		RunE:  runReportDaily,
	}
	reportIssuedCmd = &cobra.Command{
		Use:   "issued",
		Short: "Every book currently out",
		Args:  cobra.NoArgs,
		RunE:  runReportIssued,
	}
	reportAvailableCmd = &cobra.Command{
		Use:   "available",
		Short: "Books on the shelf, flagging low stock",
		Args:  cobra.NoArgs,
		RunE:  runReportAvailable,
	}
)

func init() {
	reportsCmd.AddCommand(reportActivityCmd, reportBooksCmd, reportDailyCmd, reportIssuedCmd, reportAvailableCmd)
}

func runReportActivity(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	stats, err := manager.UserActivity(cmd.Context(), caller)
	if err != nil {
		return err
	}
	fmt.Printf("%-5s %-15s %-25s %-6s %-6s %s\n", "ID", "Username", "Name", "Total", "Open", "Overdue")
	fmt.Println(strings.Repeat("-", 70))
	for _, s := range stats {
		fmt.Printf("%-5d %-15s %-25s %-6d %-6d %d\n",
			s.UserID, library.Truncate(s.Username, 15), library.Truncate(s.FullName, 25), s.Total, s.Open, s.Overdue)
	}
	return nil
}

func runReportBooks(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	r, err := manager.BookStatistics(cmd.Context(), caller)
	if err != nil {
		return err
	}
	fmt.Printf("%-5s %-30s %-20s %-6s %s\n", "ID", "Title", "Author", "Loans", "Out")
	fmt.Println(strings.Repeat("-", 70))
	for _, b := range r.Books {
		fmt.Printf("%-5d %-30s %-20s %-6d %d\n",
			b.BookID, library.Truncate(b.Title, 30), library.Truncate(b.Author, 20), b.Loans, b.Open)
	}
	if len(r.Categories) > 0 {
		fmt.Printf("\n%-25s %-6s %s\n", "Category", "Books", "Loans")
		fmt.Println(strings.Repeat("-", 40))
		for _, c := range r.Categories {
			fmt.Printf("%-25s %-6d %d\n", library.Truncate(c.Category, 25), c.Books, c.Loans)
		}
	}
	return nil
}

func runReportDaily(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	s, err := manager.DailySummary(cmd.Context(), caller)
	if err != nil {
		return err
	}
	fmt.Printf("Summary for %s (UTC)\n", formatDate(s.Date))
	fmt.Printf("Books issued:    %d\n", s.Issued)
	fmt.Printf("Books returned:  %d\n", s.Returned)
	fmt.Printf("New users:       %d\n", s.NewUsers)
	fmt.Printf("Fines created:   %d\n", s.FinesCreated)
	return nil
}

func runReportIssued(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	r, err := manager.IssuedReport(cmd.Context(), caller)
	if err != nil {
		return err
	}
	fmt.Printf("%d out: %d on time, %d overdue\n\n", len(r.Loans), r.OnTime, r.Overdue)
	if len(r.Loans) > 0 {
		printLoans(r.Loans)
	}
	return nil
}

func runReportAvailable(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	r, err := manager.AvailableReport(cmd.Context(), caller)
	if err != nil {
		return err
	}
	fmt.Printf("%d titles on the shelf, %d low on stock\n\n", len(r.Books), len(r.LowStock))
	if len(r.Books) > 0 {
		printBooks(r.Books)
	}
	return nil
}
