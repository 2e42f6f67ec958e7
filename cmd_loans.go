package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

var (
	issueReq   library.IssueRequest
	renewDays  int
	loanStatus string
	loanUserID int64
	loanBookID int64

	loansCmd = &cobra.Command{
		Use:   "loans",
		Short: "Issue, return and renew books",
	}
	loanIssueCmd = &cobra.Command{
		Use:   "issue <book-id>",
		Short: "Lend a book; defaults to yourself as the borrower",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoanIssue,
	}
	loanReturnCmd = &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Return a loan, recording a fine when it is late",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoanReturn,
	}
	loanRenewCmd = &cobra.Command{
		Use:   "renew <loan-id>",
		Short: "Extend a loan's due date",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoanRenew,
	}
	loanListCmd = &cobra.Command{
		Use:   "list",
		Short: "List loans; students see their own",
		Args:  cobra.NoArgs,
		RunE:  runLoanList,
	}
	loanOverdueCmd = &cobra.Command{
		Use:   "overdue",
		Short: "List overdue loans (admin)",
		Args:  cobra.NoArgs,
		RunE:  runLoanOverdue,
	}
	loanSweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Persist overdue status on loans past due (admin)",
		Args:  cobra.NoArgs,
		RunE:  runLoanSweep,
	}
	loanShowCmd = &cobra.Command{
		Use:   "show <loan-id>",
		Short: "Show one loan",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoanShow,
	}
)

func init() {
	f := loanIssueCmd.Flags()
	f.Int64Var(&issueReq.UserID, "user-id", 0, "borrower (admin only; defaults to yourself)")
	f.IntVar(&issueReq.LoanDays, "days", 0, "loan period in days (defaults to the configured period)")
	f.StringVar(&issueReq.Notes, "notes", "", "free-form notes")
	loanRenewCmd.Flags().IntVar(&renewDays, "days", 0, "additional days (defaults to the configured period)")
	lf := loanListCmd.Flags()
	lf.StringVar(&loanStatus, "status", "", "issued, overdue or returned")
	lf.Int64Var(&loanUserID, "user-id", 0, "only this borrower (admin)")
	lf.Int64Var(&loanBookID, "book-id", 0, "only this book")

	loansCmd.AddCommand(loanIssueCmd, loanReturnCmd, loanRenewCmd, loanListCmd,
		loanOverdueCmd, loanSweepCmd, loanShowCmd)
}

func runLoanIssue(cmd *cobra.Command, args []string) error {
	bookID, err := parseID(args[0], "book")
	if err != nil {
		return err
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	req := issueReq
	req.BookID = bookID
	if req.UserID == 0 {
		req.UserID = caller.ID
	}
	l, err := manager.IssueBook(cmd.Context(), caller, req)
	if err != nil {
		return err
	}
	fmt.Printf("Loan %d: book %d issued to user %d, due %s\n", l.ID, l.BookID, l.UserID, formatDate(l.DueDate))
	return nil
}

func runLoanReturn(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "loan")
	if err != nil {
		return err
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	r, err := manager.ReturnBook(cmd.Context(), caller, id)
	if err != nil {
		return err
	}
	fmt.Printf("Loan %d returned on %s\n", r.Loan.ID, formatDate(*r.Loan.ReturnDate))
	if r.Fine != nil {
		fmt.Printf("Late by %d day(s): fine %d of %s recorded\n", r.Fine.DaysLate, r.Fine.ID, money(r.Fine.TotalAmount))
	}
	return nil
}

func runLoanRenew(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "loan")
	if err != nil {
		return err
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	days := renewDays
	if !cmd.Flags().Changed("days") {
		days = manager.Policy().LoanDays
	}
	l, err := manager.RenewLoan(cmd.Context(), caller, id, days)
	if err != nil {
		return err
	}
	fmt.Printf("Loan %d renewed, now due %s\n", l.ID, formatDate(l.DueDate))
	return nil
}

func runLoanList(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	loans, err := manager.ListLoans(cmd.Context(), caller, library.LoanFilter{
		Status: library.LoanStatus(loanStatus),
		UserID: loanUserID,
		BookID: loanBookID,
	})
	if err != nil {
		return err
	}
	if len(loans) == 0 {
		fmt.Println("No loans.")
		return nil
	}
	printLoans(loans)
	return nil
}

func runLoanOverdue(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	loans, err := manager.ListOverdue(cmd.Context(), caller)
	if err != nil {
		return err
	}
	if len(loans) == 0 {
		fmt.Println("No overdue loans.")
		return nil
	}
	now := manager.Now()
	fmt.Printf("%-6s %-6s %-6s %-12s %s\n", "Loan", "User", "Book", "Due", "Days late")
	fmt.Println(strings.Repeat("-", 45))
	for _, l := range loans {
		fmt.Printf("%-6d %-6d %-6d %-12s %d\n", l.ID, l.UserID, l.BookID, formatDate(l.DueDate), l.DaysOverdue(now))
	}
	return nil
}

func runLoanSweep(cmd *cobra.Command, args []string) error {
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	n, err := manager.SweepOverdue(cmd.Context(), caller)
	if err != nil {
		return err
	}
	fmt.Printf("%d loan(s) marked overdue\n", n)
	return nil
}

func runLoanShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "loan")
	if err != nil {
		return err
	}
	caller, err := login(cmd.Context())
	if err != nil {
		return err
	}
	l, err := manager.GetLoan(cmd.Context(), caller, id)
	if err != nil {
		return err
	}
	fmt.Printf("Loan:     %d\n", l.ID)
	fmt.Printf("User:     %d\n", l.UserID)
	fmt.Printf("Book:     %d\n", l.BookID)
	fmt.Printf("Issued:   %s\n", formatDate(l.IssueDate))
	fmt.Printf("Due:      %s\n", formatDate(l.DueDate))
	if l.ReturnDate != nil {
		fmt.Printf("Returned: %s\n", formatDate(*l.ReturnDate))
	}
	fmt.Printf("Status:   %s\n", l.Status)
	if l.Notes != "" {
		fmt.Printf("Notes:    %s\n", l.Notes)
	}
	return nil
}

func printLoans(loans []*library.Loan) {
	fmt.Printf("%-6s %-6s %-6s %-12s %-12s %-12s %s\n", "Loan", "User", "Book", "Issued", "Due", "Returned", "Status")
	fmt.Println(strings.Repeat("-", 75))
	for _, l := range loans {
		returned := "-"
		if l.ReturnDate != nil {
			returned = formatDate(*l.ReturnDate)
		}
		fmt.Printf("%-6d %-6d %-6d %-12s %-12s %-12s %s\n",
			l.ID, l.UserID, l.BookID, formatDate(l.IssueDate), formatDate(l.DueDate), returned, l.Status)
	}
}
