package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const loanColumns = `id,user_id,book_id,issue_date,due_date,return_date,status,notes`

func scanLoan(s scanner) (*Loan, error) {
	var (
		l        Loan
		returned sql.NullTime
	)
	if err := s.Scan(&l.ID, &l.UserID, &l.BookID, &l.IssueDate, &l.DueDate, &returned, &l.Status, &l.Notes); err != nil {
		return nil, err
	}
	l.IssueDate = l.IssueDate.UTC()
	l.DueDate = l.DueDate.UTC()
	l.ReturnDate = nullTimePtr(returned)
	return &l, nil
}

func loadLoan(ctx context.Context, q queryer, id int64) (*Loan, error) {
	l, err := scanLoan(q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("loan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load loan %d: %w", id, err)
	}
	return l, nil
}

// openLoanFor loads an unreturned loan the caller may act on.
func (d *Database) openLoanFor(ctx context.Context, tx *sql.Tx, c Caller, id int64, action string) (*Loan, error) {
	l, err := loadLoan(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !adminOrOwner(d.gate, c, l.UserID) {
		return nil, forbidden("you can only " + action + " your own loans")
	}
	if l.Status == LoanReturned {
		return nil, fmt.Errorf("%s loan %d: %w", action, id, ErrAlreadyReturned)
	}
	return l, nil
}

// IssueBook lends one copy of a book to a user. The loan row and the copy
// decrement commit together.
func (d *Database) IssueBook(ctx context.Context, c Caller, req IssueRequest) (*Loan, error) {
	if !adminOrOwner(d.gate, c, req.UserID) {
		return nil, forbidden("you can only issue books to yourself")
	}
	days := req.LoanDays
	if days <= 0 {
		days = d.policy.LoanDays
	}

	var loan *Loan
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := activeUser(ctx, tx, req.UserID); err != nil {
			return err
		}
		book, err := activeBook(ctx, tx, req.BookID)
		if err != nil {
			return err
		}
		if !book.IsAvailable() {
			return fmt.Errorf("issue book %d: %w", book.ID, ErrUnavailable)
		}
		open, err := exists(ctx, tx, `SELECT 1 FROM loans WHERE user_id=? AND book_id=? AND status<>'returned'`,
			req.UserID, req.BookID)
		if err != nil {
			return err
		}
		if open {
			return fmt.Errorf("issue book %d to user %d: %w", req.BookID, req.UserID, ErrAlreadyIssued)
		}

		now := d.clock()
		res, err := tx.ExecContext(ctx, `INSERT INTO loans(user_id,book_id,issue_date,due_date,status,notes)
			VALUES(?,?,?,?,?,?)`, req.UserID, req.BookID, now, now.AddDate(0, 0, days), LoanIssued, req.Notes)
		if err != nil {
			return mapConstraint(err, ErrAlreadyIssued)
		}
		res2, err := tx.ExecContext(ctx, `UPDATE books SET available_copies=available_copies-1
			WHERE id=? AND available_copies>0`, req.BookID)
		if err != nil {
			return mapConstraint(err, ErrConflict)
		}
		if n, err := res2.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return fmt.Errorf("issue book %d: %w", req.BookID, ErrUnavailable)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		loan, err = loadLoan(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ReturnBook closes a loan, puts the copy back on the shelf and, when the
// loan was overdue, records a fine at the configured daily rate.
func (d *Database) ReturnBook(ctx context.Context, c Caller, loanID int64) (*ReturnReceipt, error) {
	var receipt ReturnReceipt
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		l, err := d.openLoanFor(ctx, tx, c, loanID, "return")
		if err != nil {
			return err
		}

		now := d.clock()
		overdue := l.IsOverdue(now)
		daysLate := l.DaysOverdue(now)

		if _, err := tx.ExecContext(ctx, `UPDATE loans SET return_date=?, status=? WHERE id=?`,
			now, LoanReturned, loanID); err != nil {
			return err
		}
		// Capped at total_copies: the total may have been cut while copies were out.
		if _, err := tx.ExecContext(ctx, `UPDATE books SET available_copies=MIN(available_copies+1, total_copies)
			WHERE id=?`, l.BookID); err != nil {
			return mapConstraint(err, ErrConflict)
		}

		if overdue {
			receipt.Fine, err = d.createFine(ctx, tx, loanID, daysLate, d.policy.FinePerDay)
			if err != nil {
				return err
			}
		}
		receipt.Loan, err = loadLoan(ctx, tx, loanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// RenewLoan pushes the due date out by additionalDays from the current due
// date. The stored status is left alone; reads derive it from the new due date.
func (d *Database) RenewLoan(ctx context.Context, c Caller, loanID int64, additionalDays int) (*Loan, error) {
	if additionalDays <= 0 {
		return nil, fmt.Errorf("renew loan %d: additional days must be positive: %w", loanID, ErrInvalidInput)
	}
	var loan *Loan
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		l, err := d.openLoanFor(ctx, tx, c, loanID, "renew")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE loans SET due_date=? WHERE id=?`,
			l.DueDate.AddDate(0, 0, additionalDays), loanID); err != nil {
			return err
		}
		loan, err = loadLoan(ctx, tx, loanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	loan.Status = loan.StatusAt(d.clock())
	return loan, nil
}

// SweepOverdue persists the overdue status for every issued loan past its due
// date. It is idempotent and returns the number of loans promoted.
func (d *Database) SweepOverdue(ctx context.Context, c Caller) (int64, error) {
	if !d.gate.IsAdmin(c) {
		return 0, forbidden("only administrators can sweep overdue loans")
	}
	res, err := d.db.ExecContext(ctx, `UPDATE loans SET status=? WHERE status=? AND due_date<?`,
		LoanOverdue, LoanIssued, d.clock())
	if err != nil {
		return 0, fmt.Errorf("sweep overdue: %w", err)
	}
	return res.RowsAffected()
}

// GetLoan fetches a loan with its status derived at the current time.
func (d *Database) GetLoan(ctx context.Context, c Caller, id int64) (*Loan, error) {
	l, err := loadLoan(ctx, d.db, id)
	if err != nil {
		return nil, err
	}
	if !adminOrOwner(d.gate, c, l.UserID) {
		return nil, forbidden("you can only view your own loans")
	}
	l.Status = l.StatusAt(d.clock())
	return l, nil
}

// ListLoans returns loans newest first. Statuses are derived on read and
// nothing is written. Students only ever see their own loans.
func (d *Database) ListLoans(ctx context.Context, c Caller, f LoanFilter) ([]*Loan, error) {
	if !d.gate.IsAdmin(c) {
		f.UserID = c.ID
	}
	now := d.clock()
	where := []string{"1=1"}
	var args []any
	switch f.Status {
	case "":
	case LoanOverdue:
		where = append(where, "status<>? AND due_date<?")
		args = append(args, LoanReturned, now)
	case LoanIssued:
		where = append(where, "status<>? AND due_date>=?")
		args = append(args, LoanReturned, now)
	case LoanReturned:
		where = append(where, "status=?")
		args = append(args, LoanReturned)
	default:
		return nil, fmt.Errorf("unknown loan status %q: %w", f.Status, ErrInvalidInput)
	}
	if f.UserID != 0 {
		where = append(where, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.BookID != 0 {
		where = append(where, "book_id=?")
		args = append(args, f.BookID)
	}
	return d.queryLoans(ctx, now, `SELECT `+loanColumns+` FROM loans WHERE `+
		strings.Join(where, " AND ")+` ORDER BY issue_date DESC, id DESC`, args...)
}

// ListOverdue returns every unreturned loan past due, most overdue first.
func (d *Database) ListOverdue(ctx context.Context, c Caller) ([]*Loan, error) {
	if !d.gate.IsAdmin(c) {
		return nil, forbidden("only administrators can view overdue loans")
	}
	now := d.clock()
	return d.queryLoans(ctx, now, `SELECT `+loanColumns+` FROM loans
		WHERE status<>? AND due_date<? ORDER BY due_date, id`, LoanReturned, now)
}

func (d *Database) queryLoans(ctx context.Context, now time.Time, query string, args ...any) ([]*Loan, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := []*Loan{}
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		l.Status = l.StatusAt(now)
		loans = append(loans, l)
	}
	return loans, rows.Err()
}
