package library

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// LowStockCopies is the shelf count at or below which the availability
// report flags a book.
const LowStockCopies = 1

// UserActivity counts one active user's loans. Open covers every unreturned
// loan; Overdue is the part of Open past its due date.
type UserActivity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Total    int    `json:"total"`
	Open     int    `json:"open"`
	Overdue  int    `json:"overdue"`
}

// BookStat is the loan count of one active book.
type BookStat struct {
	BookID   int64  `json:"book_id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Category string `json:"category"`
	Loans    int    `json:"loans"`
	Open     int    `json:"open"`
}

// CategoryStat aggregates BookStat by category.
type CategoryStat struct {
	Category string `json:"category"`
	Books    int    `json:"books"`
	Loans    int    `json:"loans"`
}

type BookStatistics struct {
	Books      []BookStat     `json:"books"`
	Categories []CategoryStat `json:"categories"`
}

// DailySummary counts what happened on one UTC calendar day.
type DailySummary struct {
	Date         time.Time `json:"date"`
	Issued       int       `json:"issued"`
	Returned     int       `json:"returned"`
	NewUsers     int       `json:"new_users"`
	FinesCreated int       `json:"fines_created"`
}

// IssuedReport lists every unreturned loan with its derived status.
type IssuedReport struct {
	Loans   []*Loan `json:"loans"`
	OnTime  int     `json:"on_time"`
	Overdue int     `json:"overdue"`
}

// AvailableReport lists books with a copy on the shelf.
type AvailableReport struct {
	Books    []*Book `json:"books"`
	LowStock []*Book `json:"low_stock"`
}

func (d *Database) adminReport(c Caller) error {
	if !d.gate.IsAdmin(c) {
		return forbidden("only administrators can view reports")
	}
	return nil
}

// UserActivity ranks active users by how many loans they have taken.
func (d *Database) UserActivity(ctx context.Context, c Caller) ([]UserActivity, error) {
	if err := d.adminReport(c); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `SELECT u.id, u.username, u.full_name, COUNT(l.id),
			COALESCE(SUM(l.status<>'returned'), 0),
			COALESCE(SUM(l.status<>'returned' AND l.due_date<?), 0)
		FROM users u LEFT JOIN loans l ON l.user_id = u.id
		WHERE u.is_active=1
		GROUP BY u.id
		ORDER BY COUNT(l.id) DESC, u.id`, d.clock())
	if err != nil {
		return nil, fmt.Errorf("user activity: %w", err)
	}
	defer rows.Close()

	stats := []UserActivity{}
	for rows.Next() {
		var s UserActivity
		if err := rows.Scan(&s.UserID, &s.Username, &s.FullName, &s.Total, &s.Open, &s.Overdue); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// BookStatistics ranks active books by popularity and rolls them up per category.
func (d *Database) BookStatistics(ctx context.Context, c Caller) (*BookStatistics, error) {
	if err := d.adminReport(c); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, `SELECT b.id, b.title, b.author, b.category, COUNT(l.id),
			COALESCE(SUM(l.status<>'returned'), 0)
		FROM books b LEFT JOIN loans l ON l.book_id = b.id
		WHERE b.is_active=1
		GROUP BY b.id
		ORDER BY COUNT(l.id) DESC, b.title, b.id`)
	if err != nil {
		return nil, fmt.Errorf("book statistics: %w", err)
	}
	defer rows.Close()

	report := &BookStatistics{Books: []BookStat{}, Categories: []CategoryStat{}}
	byCategory := map[string]*CategoryStat{}
	for rows.Next() {
		var s BookStat
		if err := rows.Scan(&s.BookID, &s.Title, &s.Author, &s.Category, &s.Loans, &s.Open); err != nil {
			return nil, err
		}
		report.Books = append(report.Books, s)
		if s.Category == "" {
			continue
		}
		cs, ok := byCategory[s.Category]
		if !ok {
			cs = &CategoryStat{Category: s.Category}
			byCategory[s.Category] = cs
		}
		cs.Books++
		cs.Loans += s.Loans
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, cs := range byCategory {
		report.Categories = append(report.Categories, *cs)
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		a, b := report.Categories[i], report.Categories[j]
		if a.Loans != b.Loans {
			return a.Loans > b.Loans
		}
		return a.Category < b.Category
	})
	return report, nil
}

// DailySummary counts today's issues, returns, registrations and fines.
func (d *Database) DailySummary(ctx context.Context, c Caller) (*DailySummary, error) {
	if err := d.adminReport(c); err != nil {
		return nil, err
	}
	now := d.clock()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	s := &DailySummary{Date: start}
	counts := []struct {
		dst   *int
		query string
	}{
		{&s.Issued, `SELECT COUNT(*) FROM loans WHERE issue_date>=? AND issue_date<?`},
		{&s.Returned, `SELECT COUNT(*) FROM loans WHERE return_date>=? AND return_date<?`},
		{&s.NewUsers, `SELECT COUNT(*) FROM users WHERE created_at>=? AND created_at<?`},
		{&s.FinesCreated, `SELECT COUNT(*) FROM fines WHERE created_at>=? AND created_at<?`},
	}
	for _, q := range counts {
		if err := d.db.QueryRowContext(ctx, q.query, start, end).Scan(q.dst); err != nil {
			return nil, fmt.Errorf("daily summary: %w", err)
		}
	}
	return s, nil
}

// IssuedReport lists unreturned loans newest first.
func (d *Database) IssuedReport(ctx context.Context, c Caller) (*IssuedReport, error) {
	if err := d.adminReport(c); err != nil {
		return nil, err
	}
	loans, err := d.queryLoans(ctx, d.clock(), `SELECT `+loanColumns+` FROM loans
		WHERE status<>? ORDER BY issue_date DESC, id DESC`, LoanReturned)
	if err != nil {
		return nil, err
	}
	r := &IssuedReport{Loans: loans}
	for _, l := range loans {
		if l.Status == LoanOverdue {
			r.Overdue++
		} else {
			r.OnTime++
		}
	}
	return r, nil
}

// AvailableReport lists books on the shelf and flags those running low.
func (d *Database) AvailableReport(ctx context.Context, c Caller) (*AvailableReport, error) {
	if err := d.adminReport(c); err != nil {
		return nil, err
	}
	books, err := d.ListBooks(ctx, BookFilter{AvailableOnly: true})
	if err != nil {
		return nil, err
	}
	r := &AvailableReport{Books: books, LowStock: []*Book{}}
	for _, b := range books {
		if b.AvailableCopies <= LowStockCopies {
			r.LowStock = append(r.LowStock, b)
		}
	}
	return r, nil
}
