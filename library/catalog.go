package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const bookColumns = `id,title,author,isbn,publisher,publication_year,category,description,location,
	total_copies,available_copies,added_at,is_active`

func scanBook(s scanner) (*Book, error) {
	var b Book
	err := s.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Publisher, &b.PublicationYear,
		&b.Category, &b.Description, &b.Location, &b.TotalCopies, &b.AvailableCopies,
		&b.AddedAt, &b.IsActive)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBooks(rows *sql.Rows) ([]*Book, error) {
	defer rows.Close()
	books := []*Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// activeBook loads a book that has not been deactivated.
func activeBook(ctx context.Context, q queryer, id int64) (*Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id=? AND is_active=1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("book", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load book %d: %w", id, err)
	}
	return b, nil
}

func isbnTaken(ctx context.Context, q queryer, isbn string, exceptID int64) error {
	taken, err := exists(ctx, q, `SELECT 1 FROM books WHERE isbn=? AND is_active=1 AND id<>?`, isbn, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("isbn %q: a book with this ISBN already exists: %w", isbn, ErrDuplicateKey)
	}
	return nil
}

// adjustAvailable recomputes the available count after the total changes.
// Copies already out on loan are never reclaimed.
func adjustAvailable(oldTotal, oldAvailable, newTotal int) int {
	switch {
	case newTotal > oldTotal:
		return oldAvailable + (newTotal - oldTotal)
	case newTotal < oldTotal:
		issued := oldTotal - oldAvailable
		return max(0, newTotal-issued)
	default:
		return oldAvailable
	}
}

// AddBook catalogs a new title with every copy available.
func (d *Database) AddBook(ctx context.Context, c Caller, in BookInput) (*Book, error) {
	if !d.gate.IsAdmin(c) {
		return nil, forbidden("only administrators can add books")
	}
	var book *Book
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := isbnTaken(ctx, tx, in.ISBN, 0); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO books(title,author,isbn,publisher,publication_year,category,
			description,location,total_copies,available_copies,added_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
			in.Title, in.Author, in.ISBN, in.Publisher, in.PublicationYear, in.Category,
			in.Description, in.Location, in.TotalCopies, in.TotalCopies, d.clock())
		if err != nil {
			return mapConstraint(err, ErrDuplicateKey)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		book, err = activeBook(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// UpdateBook replaces a book's fields and rebalances its available copies.
func (d *Database) UpdateBook(ctx context.Context, c Caller, id int64, in BookInput) (*Book, error) {
	if !d.gate.IsAdmin(c) {
		return nil, forbidden("only administrators can edit books")
	}
	var book *Book
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		old, err := activeBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := isbnTaken(ctx, tx, in.ISBN, id); err != nil {
			return err
		}
		available := adjustAvailable(old.TotalCopies, old.AvailableCopies, in.TotalCopies)
		_, err = tx.ExecContext(ctx, `UPDATE books SET title=?,author=?,isbn=?,publisher=?,publication_year=?,
			category=?,description=?,location=?,total_copies=?,available_copies=? WHERE id=?`,
			in.Title, in.Author, in.ISBN, in.Publisher, in.PublicationYear, in.Category,
			in.Description, in.Location, in.TotalCopies, available, id)
		if err != nil {
			return mapConstraint(err, ErrDuplicateKey)
		}
		book, err = activeBook(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// DeactivateBook soft-deletes a book that has no copies out on loan.
func (d *Database) DeactivateBook(ctx context.Context, c Caller, id int64) error {
	if !d.gate.IsAdmin(c) {
		return forbidden("only administrators can delete books")
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := activeBook(ctx, tx, id); err != nil {
			return err
		}
		open, err := exists(ctx, tx, `SELECT 1 FROM loans WHERE book_id=? AND status<>'returned'`, id)
		if err != nil {
			return err
		}
		if open {
			return fmt.Errorf("deactivate book %d: %w", id, ErrActiveLoans)
		}
		_, err = tx.ExecContext(ctx, `UPDATE books SET is_active=0 WHERE id=?`, id)
		return err
	})
}

// GetBook fetches an active book.
func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	return activeBook(ctx, d.db, id)
}

// ListBooks returns active books ordered by title.
func (d *Database) ListBooks(ctx context.Context, f BookFilter) ([]*Book, error) {
	where := []string{"is_active=1"}
	var args []any
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + q + "%"
		where = append(where, "(title LIKE ? OR author LIKE ? OR isbn LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.Category != "" {
		where = append(where, "category=?")
		args = append(args, f.Category)
	}
	if f.AvailableOnly {
		where = append(where, "available_copies>0")
	}
	rows, err := d.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books WHERE `+
		strings.Join(where, " AND ")+` ORDER BY title, id`, args...)
	if err != nil {
		return nil, err
	}
	return scanBooks(rows)
}

// SearchBooks is the quick lookup used while issuing: at least two characters,
// at most ten results, only books with a copy on the shelf.
func (d *Database) SearchBooks(ctx context.Context, q string) ([]*Book, error) {
	q = strings.TrimSpace(q)
	if len(q) < 2 {
		return []*Book{}, nil
	}
	like := "%" + q + "%"
	rows, err := d.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books
		WHERE is_active=1 AND available_copies>0 AND (title LIKE ? OR author LIKE ? OR isbn LIKE ?)
		ORDER BY title, id LIMIT 10`, like, like, like)
	if err != nil {
		return nil, err
	}
	return scanBooks(rows)
}

// Categories lists the distinct non-empty categories of active books.
func (d *Database) Categories(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT category FROM books
		WHERE is_active=1 AND category<>'' ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}
