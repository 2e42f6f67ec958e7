package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

var (
	fineStatus string
	fineUserID int64

	finesCmd = &cobra.Command{
		Use:   "fines",
		Short: "Late-return fines and payments",
	}
	fineListCmd = &cobra.Command{
		Use:   "list",
		Short: "List fines; students see their own",
		Args:  cobra.NoArgs,
		RunE:  runFineList,
	}
	finePayCmd = &cobra.Command{
		Use:   "pay <fine-id> <amount>",
		Short: "Pay all or part of a fine",
		Args:  cobra.ExactArgs(2),
		RunE:  runFinePay,
	}
	finePaymentsCmd = &cobra.Command{
		Use:   "payments <fine-id>",
		Short: "Show the payments made against a fine",
		Args:  cobra.ExactArgs(1),
		RunE:  runFinePayments,
	}
	fineSummaryCmd = &cobra.Command{
		Use:   "summary",
		Short: "Totals for the whole fines ledger (admin)",
		Args:  cobra.NoArgs,
		RunE:  runFineSummary,
	}
)

func init() {
	fineListCmd.Flags().StringVar(&fineStatus, "status", "", "unpaid, partially_paid or paid")
	fineListCmd.Flags().Int64Var(&fineUserID, "user-id", 0, "only this borrower (admin)")

	finesCmd.AddCommand(fineListCmd, finePayCmd, finePaymentsCmd, fineSummaryCmd)
}

func runFineList(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	fines, err := manager.ListFines(cmd.Context(), caller, library.FineFilter{
		Status: library.FineStatus(fineStatus),
		UserID: fineUserID,
	})
	if err != nil {
		return err
	}
	if len(fines) == 0 {
		fmt.Println("No fines.")
		return nil
	}
	fmt.Printf("%-5s %-6s %-5s %-10s %-10s %-10s %s\n", "ID", "Loan", "Days", "Total", "Paid", "Owed", "Status")
	fmt.Println(strings.Repeat("-", 70))
	for _, f := range fines {
		fmt.Printf("%-5d %-6d %-5d %-10s %-10s %-10s %s\n",
			f.ID, f.LoanID, f.DaysLate, money(f.TotalAmount), money(f.PaidAmount), money(f.Remaining()), f.Status)
	}
	return nil
}

func runFinePay(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "fine")
	if err != nil {
		return err
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	f, p, err := manager.PayFine(cmd.Context(), caller, id, amount)
	if err != nil {
		return err
	}
	fmt.Printf("Payment %s: %s applied to fine %d\n", p.Reference, money(p.Amount), f.ID)
	if f.Status == library.FinePaid {
		fmt.Println("Fine fully paid")
	} else {
		fmt.Printf("Still owed: %s\n", money(f.Remaining()))
	}
	return nil
}

func runFinePayments(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "fine")
	if err != nil {
		return err
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	payments, err := manager.ListPayments(cmd.Context(), caller, id)
	if err != nil {
		return err
	}
	if len(payments) == 0 {
		fmt.Println("No payments.")
		return nil
	}
	fmt.Printf("%-38s %-10s %s\n", "Reference", "Amount", "Paid at")
	fmt.Println(strings.Repeat("-", 70))
	for _, p := range payments {
		fmt.Printf("%-38s %-10s %s\n", p.Reference, money(p.Amount), p.PaidAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runFineSummary(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	s, err := manager.FineSummary(cmd.Context(), caller)
	if err != nil {
		return err
	}
	fmt.Printf("Fines:        %d (%d unpaid, %d partially paid, %d paid)\n", s.Count, s.Unpaid, s.Partial, s.Paid)
	fmt.Printf("Total:        %s\n", money(s.Total))
	fmt.Printf("Collected:    %s\n", money(s.Collected))
	fmt.Printf("Outstanding:  %s\n", money(s.Outstanding))
	return nil
}
