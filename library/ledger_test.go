package library

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoanDerivedStatus(t *testing.T) {
	due := epoch.Add(days(14))
	l := &Loan{DueDate: due, Status: LoanIssued}

	assert.Equal(t, LoanIssued, l.StatusAt(due))
	assert.Equal(t, 0, l.DaysOverdue(due))

	assert.Equal(t, LoanOverdue, l.StatusAt(due.Add(time.Second)))
	assert.Equal(t, 0, l.DaysOverdue(due.Add(23*time.Hour)))
	assert.Equal(t, 2, l.DaysOverdue(due.Add(days(2)+time.Hour)))

	// A stored overdue status does not outlive a later due date.
	swept := &Loan{DueDate: due, Status: LoanOverdue}
	assert.Equal(t, LoanIssued, swept.StatusAt(due.Add(-time.Hour)))
	assert.Equal(t, LoanOverdue, swept.StatusAt(due.Add(time.Hour)))

	returned := due.Add(days(1))
	l.ReturnDate, l.Status = &returned, LoanReturned
	assert.Equal(t, LoanReturned, l.StatusAt(due.Add(days(30))))
	assert.Equal(t, 0, l.DaysOverdue(due.Add(days(30))))
}

func TestIssueLastCopyThenUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addBook(t, "978-A", 1)

	t1, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: a.ID, LoanDays: 14})
	require.NoError(t, err)
	assert.Equal(t, LoanIssued, t1.Status)
	assert.True(t, t1.IssueDate.Equal(epoch))
	assert.True(t, t1.DueDate.Equal(epoch.Add(days(14))))
	assert.Nil(t, t1.ReturnDate)
	assert.Equal(t, 0, f.book(t, a.ID).AvailableCopies)

	_, err = f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.bob.ID, BookID: a.ID})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "Conflict", KindOf(err))
	assert.Equal(t, 0, f.book(t, a.ID).AvailableCopies)
}

func TestIssueUsesConfiguredLoanPeriod(t *testing.T) {
	f := newFixture(t, WithPolicy(Policy{LoanDays: 7, FinePerDay: decimal.NewFromInt(1)}))
	b := f.addBook(t, "978-P", 1)

	l, err := f.db.IssueBook(context.Background(), f.alice, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	require.NoError(t, err)
	assert.True(t, l.DueDate.Equal(epoch.Add(days(7))))
}

func TestIssueAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-auth", 2)

	_, err := f.db.IssueBook(ctx, f.alice, IssueRequest{UserID: f.bob.ID, BookID: b.ID})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.db.IssueBook(ctx, f.alice, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	assert.NoError(t, err)

	_, err = f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: 999, BookID: b.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.bob.ID, BookID: 999})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAtMostOneOpenLoanPerUserAndBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-pair", 3)

	l, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	require.NoError(t, err)

	_, err = f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	require.ErrorIs(t, err, ErrAlreadyIssued)
	assert.Equal(t, 2, f.book(t, b.ID).AvailableCopies)

	// Still held once it is overdue.
	f.clock.Advance(days(20))
	_, err = f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	require.ErrorIs(t, err, ErrAlreadyIssued)

	_, err = f.db.ReturnBook(ctx, f.alice, l.ID)
	require.NoError(t, err)
	_, err = f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	assert.NoError(t, err)
}

func TestIssueReturnRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-rt", 4)

	l, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.bob.ID, BookID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, f.book(t, b.ID).AvailableCopies)

	f.clock.Advance(days(3))
	r, err := f.db.ReturnBook(ctx, f.bob, l.ID)
	require.NoError(t, err)
	assert.Nil(t, r.Fine)
	assert.Equal(t, LoanReturned, r.Loan.Status)
	require.NotNil(t, r.Loan.ReturnDate)
	assert.True(t, r.Loan.ReturnDate.Equal(epoch.Add(days(3))))
	assert.Equal(t, 4, f.book(t, b.ID).AvailableCopies)
}

func TestOverdueReturnCreatesFine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addBook(t, "978-late", 1)

	t1, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: a.ID, LoanDays: 14})
	require.NoError(t, err)

	f.clock.Advance(days(14 + 5))
	r, err := f.db.ReturnBook(ctx, f.admin, t1.ID)
	require.NoError(t, err)

	assert.Equal(t, LoanReturned, r.Loan.Status)
	assert.Equal(t, 1, f.book(t, a.ID).AvailableCopies)
	require.NotNil(t, r.Fine)
	assert.Equal(t, t1.ID, r.Fine.LoanID)
	assert.Equal(t, 5, r.Fine.DaysLate)
	assert.True(t, r.Fine.TotalAmount.Equal(decimal.NewFromInt(5)), "total %s", r.Fine.TotalAmount)
	assert.True(t, r.Fine.PaidAmount.IsZero())
	assert.Equal(t, FineUnpaid, r.Fine.Status)
	assert.Nil(t, r.Fine.PaidDate)
}

func TestReturnWithinFirstLateDayRecordsZeroFine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-hour", 1)

	l, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	require.NoError(t, err)

	f.clock.Advance(days(14) + time.Hour)
	r, err := f.db.ReturnBook(ctx, f.alice, l.ID)
	require.NoError(t, err)
	require.NotNil(t, r.Fine)
	assert.Equal(t, 0, r.Fine.DaysLate)
	assert.True(t, r.Fine.TotalAmount.IsZero())
}

func TestReturnCheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-order", 1)

	l, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	require.NoError(t, err)

	_, err = f.db.ReturnBook(ctx, f.admin, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.db.ReturnBook(ctx, f.bob, l.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.db.ReturnBook(ctx, f.alice, l.ID)
	require.NoError(t, err)

	_, err = f.db.ReturnBook(ctx, f.alice, l.ID)
	assert.ErrorIs(t, err, ErrAlreadyReturned)
	assert.Equal(t, 1, f.book(t, b.ID).AvailableCopies)

	// Authorization is checked before the returned state.
	_, err = f.db.ReturnBook(ctx, f.bob, l.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRenewLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-renew", 1)

	l, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID, LoanDays: 14})
	require.NoError(t, err)

	// Renewal counts from the current due date, not from today.
	f.clock.Advance(days(16))
	renewed, err := f.db.RenewLoan(ctx, f.alice, l.ID, 7)
	require.NoError(t, err)
	assert.True(t, renewed.DueDate.Equal(epoch.Add(days(21))))
	assert.Equal(t, LoanIssued, renewed.Status)

	got, err := f.db.GetLoan(ctx, f.alice, l.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanIssued, got.Status)

	_, err = f.db.RenewLoan(ctx, f.alice, l.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.db.RenewLoan(ctx, f.bob, l.ID, 7)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.db.ReturnBook(ctx, f.alice, l.ID)
	require.NoError(t, err)
	_, err = f.db.RenewLoan(ctx, f.admin, l.ID, 7)
	assert.ErrorIs(t, err, ErrAlreadyReturned)
}

func TestSweepOverdueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b1 := f.addBook(t, "978-s1", 1)
	b2 := f.addBook(t, "978-s2", 1)

	late, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b1.ID, LoanDays: 3})
	require.NoError(t, err)
	_, err = f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.bob.ID, BookID: b2.ID, LoanDays: 30})
	require.NoError(t, err)
	f.clock.Advance(days(10))

	_, err = f.db.SweepOverdue(ctx, f.alice)
	assert.ErrorIs(t, err, ErrForbidden)

	n, err := f.db.SweepOverdue(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	first, err := f.db.ListLoans(ctx, f.admin, LoanFilter{Status: LoanOverdue})
	require.NoError(t, err)

	n, err = f.db.SweepOverdue(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	second, err := f.db.ListLoans(ctx, f.admin, LoanFilter{Status: LoanOverdue})
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, late.ID, first[0].ID)
	assert.Equal(t, first, second)

	var stored string
	require.NoError(t, f.db.db.QueryRow(`SELECT status FROM loans WHERE id=?`, late.ID).Scan(&stored))
	assert.Equal(t, string(LoanOverdue), stored)
}

func TestRenewAfterSweepClearsOverdueView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-swept", 1)

	l, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID, LoanDays: 14})
	require.NoError(t, err)
	f.clock.Advance(days(15))
	n, err := f.db.SweepOverdue(ctx, f.admin)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	renewed, err := f.db.RenewLoan(ctx, f.alice, l.ID, 14)
	require.NoError(t, err)
	now := f.clock.Now()
	assert.False(t, renewed.IsOverdue(now))
	assert.Equal(t, LoanIssued, renewed.Status)

	got, err := f.db.GetLoan(ctx, f.alice, l.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanIssued, got.Status)

	overdue, err := f.db.ListLoans(ctx, f.admin, LoanFilter{Status: LoanOverdue})
	require.NoError(t, err)
	assert.Empty(t, overdue)
	flagged, err := f.db.ListOverdue(ctx, f.admin)
	require.NoError(t, err)
	assert.Empty(t, flagged)

	issued, err := f.db.ListLoans(ctx, f.admin, LoanFilter{Status: LoanIssued})
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, l.ID, issued[0].ID)

	// Once the renewed due date passes, every view agrees it is overdue again.
	f.clock.Advance(days(14))
	overdue, err = f.db.ListLoans(ctx, f.admin, LoanFilter{Status: LoanOverdue})
	require.NoError(t, err)
	flagged, err = f.db.ListOverdue(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, overdue, 1)
	assert.Len(t, flagged, 1)
}

func TestOverdueListingHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-lazy", 1)

	l, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	require.NoError(t, err)
	f.clock.Advance(days(15) + time.Hour)

	overdue, err := f.db.ListOverdue(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, LoanOverdue, overdue[0].Status)
	assert.Equal(t, 1, overdue[0].DaysOverdue(f.clock.Now()))

	got, err := f.db.GetLoan(ctx, f.alice, l.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanOverdue, got.Status)

	var stored string
	require.NoError(t, f.db.db.QueryRow(`SELECT status FROM loans WHERE id=?`, l.ID).Scan(&stored))
	assert.Equal(t, string(LoanIssued), stored)

	_, err = f.db.ListOverdue(ctx, f.alice)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListLoansFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b1 := f.addBook(t, "978-f1", 2)
	b2 := f.addBook(t, "978-f2", 2)

	a1, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b1.ID, LoanDays: 2})
	require.NoError(t, err)
	_, err = f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b2.ID, LoanDays: 30})
	require.NoError(t, err)
	bob1, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.bob.ID, BookID: b1.ID, LoanDays: 30})
	require.NoError(t, err)
	_, err = f.db.ReturnBook(ctx, f.bob, bob1.ID)
	require.NoError(t, err)
	f.clock.Advance(days(5))

	count := func(c Caller, lf LoanFilter) int {
		t.Helper()
		loans, err := f.db.ListLoans(ctx, c, lf)
		require.NoError(t, err)
		return len(loans)
	}
	assert.Equal(t, 3, count(f.admin, LoanFilter{}))
	assert.Equal(t, 1, count(f.admin, LoanFilter{Status: LoanOverdue}))
	assert.Equal(t, 1, count(f.admin, LoanFilter{Status: LoanIssued}))
	assert.Equal(t, 1, count(f.admin, LoanFilter{Status: LoanReturned}))
	assert.Equal(t, 2, count(f.admin, LoanFilter{BookID: b1.ID}))
	assert.Equal(t, 1, count(f.admin, LoanFilter{UserID: f.bob.ID}))

	// Students are pinned to their own loans whatever they ask for.
	assert.Equal(t, 2, count(f.alice, LoanFilter{}))
	assert.Equal(t, 2, count(f.alice, LoanFilter{UserID: f.bob.ID}))
	assert.Equal(t, 1, count(f.bob, LoanFilter{}))

	_, err = f.db.GetLoan(ctx, f.bob, a1.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.db.ListLoans(ctx, f.admin, LoanFilter{Status: "lost"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConcurrentIssueOfLastCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-race", 1)

	const borrowers = 8
	users := make([]Caller, borrowers)
	for i := range users {
		users[i] = f.addStudent(t, fmt.Sprintf("racer%d", i))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		issued   int
		rejected int
	)
	for _, u := range users {
		wg.Add(1)
		go func(u Caller) {
			defer wg.Done()
			_, err := f.db.IssueBook(ctx, u, IssueRequest{UserID: u.ID, BookID: b.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				issued++
			case assert.ErrorIs(t, err, ErrUnavailable):
				rejected++
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 1, issued)
	assert.Equal(t, borrowers-1, rejected)
	assert.Equal(t, 0, f.book(t, b.ID).AvailableCopies)

	open, err := f.db.ListLoans(ctx, f.admin, LoanFilter{BookID: b.ID})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}
