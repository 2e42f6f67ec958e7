package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const fineColumns = `f.id,f.loan_id,f.days_late,f.per_day_rate,f.total_amount,f.paid_amount,f.status,f.created_at,f.paid_date`

// scanFine reads fineColumns followed by any extra destinations.
func scanFine(s scanner, extra ...any) (*Fine, error) {
	var (
		f    Fine
		paid sql.NullTime
	)
	dest := []any{&f.ID, &f.LoanID, &f.DaysLate, &f.PerDayRate, &f.TotalAmount, &f.PaidAmount,
		&f.Status, &f.CreatedAt, &paid}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	f.PaidDate = nullTimePtr(paid)
	return &f, nil
}

// loadFine returns the fine together with the borrower who owes it.
func loadFine(ctx context.Context, q queryer, id int64) (*Fine, int64, error) {
	var ownerID int64
	f, err := scanFine(q.QueryRowContext(ctx, `SELECT `+fineColumns+`, l.user_id FROM fines f
		JOIN loans l ON l.id = f.loan_id WHERE f.id=?`, id), &ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, notFound("fine", id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load fine %d: %w", id, err)
	}
	return f, ownerID, nil
}

// createFine records the fine for a late return inside the return's
// transaction. A loan carries at most one fine.
func (d *Database) createFine(ctx context.Context, tx *sql.Tx, loanID int64, daysLate int, rate decimal.Decimal) (*Fine, error) {
	if daysLate < 0 || rate.IsNegative() {
		return nil, fmt.Errorf("fine for loan %d: days late and rate must not be negative: %w", loanID, ErrInvalidInput)
	}
	dup, err := exists(ctx, tx, `SELECT 1 FROM fines WHERE loan_id=?`, loanID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("fine for loan %d: %w", loanID, ErrFineExists)
	}

	total := rate.Mul(decimal.NewFromInt(int64(daysLate)))
	res, err := tx.ExecContext(ctx, `INSERT INTO fines(loan_id,days_late,per_day_rate,total_amount,paid_amount,status,created_at)
		VALUES(?,?,?,?,?,?,?)`, loanID, daysLate, rate, total, decimal.Zero, FineUnpaid, d.clock())
	if err != nil {
		return nil, mapConstraint(err, ErrFineExists)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	f, _, err := loadFine(ctx, tx, id)
	return f, err
}

// PayFine applies a payment to a fine. Overpayment is capped at the amount
// owed and only the applied amount is recorded.
func (d *Database) PayFine(ctx context.Context, c Caller, fineID int64, amount decimal.Decimal) (*Fine, *Payment, error) {
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("pay fine %d: amount %s must be positive: %w", fineID, amount, ErrInvalidAmount)
	}
	var (
		fine    *Fine
		payment *Payment
	)
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		f, ownerID, err := loadFine(ctx, tx, fineID)
		if err != nil {
			return err
		}
		if !adminOrOwner(d.gate, c, ownerID) {
			return forbidden("you can only pay your own fines")
		}
		if f.Status == FinePaid {
			return fmt.Errorf("pay fine %d: %w", fineID, ErrAlreadyPaid)
		}

		now := d.clock()
		applied := decimal.Min(amount, f.Remaining())
		paid := f.PaidAmount.Add(applied)
		status := fineStatusFor(paid, f.TotalAmount)
		var paidDate any
		if status == FinePaid {
			paidDate = now
		}
		if _, err := tx.ExecContext(ctx, `UPDATE fines SET paid_amount=?, status=?, paid_date=? WHERE id=?`,
			paid, status, paidDate, fineID); err != nil {
			return err
		}

		ref := uuid.NewString()
		res, err := tx.ExecContext(ctx, `INSERT INTO fine_payments(fine_id,reference,amount,paid_at) VALUES(?,?,?,?)`,
			fineID, ref, applied, now)
		if err != nil {
			return err
		}
		pid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		payment = &Payment{ID: pid, FineID: fineID, Reference: ref, Amount: applied, PaidAt: now}

		fine, _, err = loadFine(ctx, tx, fineID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return fine, payment, nil
}

// GetFine fetches a fine visible to the caller.
func (d *Database) GetFine(ctx context.Context, c Caller, id int64) (*Fine, error) {
	f, ownerID, err := loadFine(ctx, d.db, id)
	if err != nil {
		return nil, err
	}
	if !adminOrOwner(d.gate, c, ownerID) {
		return nil, forbidden("you can only view your own fines")
	}
	return f, nil
}

// ListFines returns fines newest first. Students only see their own.
func (d *Database) ListFines(ctx context.Context, c Caller, f FineFilter) ([]*Fine, error) {
	if !d.gate.IsAdmin(c) {
		f.UserID = c.ID
	}
	query := `SELECT ` + fineColumns + ` FROM fines f JOIN loans l ON l.id = f.loan_id WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND f.status=?`
		args = append(args, f.Status)
	}
	if f.UserID != 0 {
		query += ` AND l.user_id=?`
		args = append(args, f.UserID)
	}
	rows, err := d.db.QueryContext(ctx, query+` ORDER BY f.created_at DESC, f.id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fines := []*Fine{}
	for rows.Next() {
		fn, err := scanFine(rows)
		if err != nil {
			return nil, err
		}
		fines = append(fines, fn)
	}
	return fines, rows.Err()
}

// ListPayments returns the installments recorded against a fine, oldest first.
func (d *Database) ListPayments(ctx context.Context, c Caller, fineID int64) ([]*Payment, error) {
	if _, err := d.GetFine(ctx, c, fineID); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `SELECT id,fine_id,reference,amount,paid_at FROM fine_payments
		WHERE fine_id=? ORDER BY paid_at, id`, fineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []*Payment{}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.FineID, &p.Reference, &p.Amount, &p.PaidAt); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

// Summary totals the fines ledger. Administrators only.
func (d *Database) Summary(ctx context.Context, c Caller) (*FineSummary, error) {
	if !d.gate.IsAdmin(c) {
		return nil, forbidden("only administrators can view the fines report")
	}
	fines, err := d.ListFines(ctx, c, FineFilter{})
	if err != nil {
		return nil, err
	}
	s := &FineSummary{Total: decimal.Zero, Collected: decimal.Zero, Outstanding: decimal.Zero}
	for _, f := range fines {
		s.Count++
		switch f.Status {
		case FineUnpaid:
			s.Unpaid++
		case FinePartiallyPaid:
			s.Partial++
		case FinePaid:
			s.Paid++
		}
		s.Total = s.Total.Add(f.TotalAmount)
		s.Collected = s.Collected.Add(f.PaidAmount)
		s.Outstanding = s.Outstanding.Add(f.Remaining())
	}
	return s, nil
}
