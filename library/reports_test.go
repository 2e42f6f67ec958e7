package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// circulation stocks three books and lends alice two of them and bob one.
type circulation struct {
	*fixture
	python, algos, clean *Book
	aliceLoans           []*Loan
	bobLoan              *Loan
}

func newCirculation(t *testing.T) *circulation {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()
	add := func(title, category, isbn string, copies int) *Book {
		b, err := f.db.AddBook(ctx, f.admin, BookInput{Title: title, Author: "Author", ISBN: isbn, Category: category, TotalCopies: copies})
		require.NoError(t, err)
		return b
	}
	c := &circulation{
		fixture: f,
		python:  add("Python Programming", "Programming", "978-rp", 3),
		algos:   add("Algorithms", "Computer Science", "978-ra", 2),
		clean:   add("Clean Code", "Programming", "978-rc", 1),
	}
	issue := func(who Caller, b *Book) *Loan {
		l, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: who.ID, BookID: b.ID})
		require.NoError(t, err)
		return l
	}
	c.aliceLoans = []*Loan{issue(f.alice, c.python), issue(f.alice, c.algos)}
	c.bobLoan = issue(f.bob, c.python)
	return c
}

func TestReportsRequireAdmin(t *testing.T) {
	c := newCirculation(t)
	ctx := context.Background()

	_, err := c.db.UserActivity(ctx, c.alice)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.db.BookStatistics(ctx, c.alice)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.db.DailySummary(ctx, c.alice)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.db.IssuedReport(ctx, c.alice)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.db.AvailableReport(ctx, c.alice)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUserActivity(t *testing.T) {
	c := newCirculation(t)
	ctx := context.Background()
	c.clock.Advance(days(15))
	_, err := c.db.ReturnBook(ctx, c.bob, c.bobLoan.ID)
	require.NoError(t, err)

	stats, err := c.db.UserActivity(ctx, c.admin)
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Equal(t, UserActivity{UserID: c.alice.ID, Username: "alice", FullName: "alice", Total: 2, Open: 2, Overdue: 2}, stats[0])
	assert.Equal(t, UserActivity{UserID: c.bob.ID, Username: "bob", FullName: "bob", Total: 1}, stats[1])
	assert.Equal(t, c.admin.ID, stats[2].UserID)
	assert.Zero(t, stats[2].Total)
}

func TestBookStatistics(t *testing.T) {
	c := newCirculation(t)
	ctx := context.Background()
	_, err := c.db.ReturnBook(ctx, c.bob, c.bobLoan.ID)
	require.NoError(t, err)

	r, err := c.db.BookStatistics(ctx, c.admin)
	require.NoError(t, err)
	require.Len(t, r.Books, 3)
	assert.Equal(t, c.python.ID, r.Books[0].BookID)
	assert.Equal(t, 2, r.Books[0].Loans)
	assert.Equal(t, 1, r.Books[0].Open)
	assert.Equal(t, c.algos.ID, r.Books[1].BookID)
	assert.Equal(t, c.clean.ID, r.Books[2].BookID)
	assert.Zero(t, r.Books[2].Loans)

	assert.Equal(t, []CategoryStat{
		{Category: "Programming", Books: 2, Loans: 2},
		{Category: "Computer Science", Books: 1, Loans: 1},
	}, r.Categories)
}

func TestDailySummary(t *testing.T) {
	c := newCirculation(t)
	ctx := context.Background()

	s, err := c.db.DailySummary(ctx, c.admin)
	require.NoError(t, err)
	assert.True(t, s.Date.Equal(epoch.Truncate(days(1))))
	assert.Equal(t, DailySummary{Date: s.Date, Issued: 3, NewUsers: 3}, *s)

	c.clock.Advance(days(15))
	_, err = c.db.ReturnBook(ctx, c.bob, c.bobLoan.ID)
	require.NoError(t, err)

	s, err = c.db.DailySummary(ctx, c.admin)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Issued)
	assert.Equal(t, 1, s.Returned)
	assert.Equal(t, 0, s.NewUsers)
	assert.Equal(t, 1, s.FinesCreated)
}

func TestIssuedReport(t *testing.T) {
	c := newCirculation(t)
	ctx := context.Background()

	r, err := c.db.IssuedReport(ctx, c.admin)
	require.NoError(t, err)
	assert.Len(t, r.Loans, 3)
	assert.Equal(t, 3, r.OnTime)
	assert.Zero(t, r.Overdue)

	c.clock.Advance(days(15))
	_, err = c.db.ReturnBook(ctx, c.bob, c.bobLoan.ID)
	require.NoError(t, err)
	_, err = c.db.RenewLoan(ctx, c.alice, c.aliceLoans[1].ID, 14)
	require.NoError(t, err)

	r, err = c.db.IssuedReport(ctx, c.admin)
	require.NoError(t, err)
	assert.Len(t, r.Loans, 2)
	assert.Equal(t, 1, r.OnTime)
	assert.Equal(t, 1, r.Overdue)
	for _, l := range r.Loans {
		assert.Equal(t, c.alice.ID, l.UserID)
	}
}

func TestAvailableReport(t *testing.T) {
	c := newCirculation(t)
	ctx := context.Background()

	r, err := c.db.AvailableReport(ctx, c.admin)
	require.NoError(t, err)
	// Python has one of three left on the shelf once bob's copy is counted.
	titles := make([]string, 0, len(r.Books))
	for _, b := range r.Books {
		titles = append(titles, b.Title)
	}
	assert.Equal(t, []string{"Algorithms", "Clean Code", "Python Programming"}, titles)

	low := make([]int64, 0, len(r.LowStock))
	for _, b := range r.LowStock {
		low = append(low, b.ID)
	}
	assert.ElementsMatch(t, []int64{c.algos.ID, c.clean.ID, c.python.ID}, low)

	_, err = c.db.IssueBook(ctx, c.admin, IssueRequest{UserID: c.bob.ID, BookID: c.clean.ID})
	require.NoError(t, err)
	r, err = c.db.AvailableReport(ctx, c.admin)
	require.NoError(t, err)
	assert.Len(t, r.Books, 2)
	assert.Len(t, r.LowStock, 2)
}
