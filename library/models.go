package library

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes librarians from borrowers.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// Caller identifies who is performing an operation.
type Caller struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// Book is a catalog entry and its copy counts.
type Book struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	Publisher       string    `json:"publisher,omitempty"`
	PublicationYear int       `json:"publication_year,omitempty"`
	Category        string    `json:"category,omitempty"`
	Description     string    `json:"description,omitempty"`
	Location        string    `json:"location,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	AddedAt         time.Time `json:"added_at"`
	IsActive        bool      `json:"is_active"`
}

// IsAvailable reports whether a copy can be issued right now.
func (b *Book) IsAvailable() bool { return b.AvailableCopies > 0 && b.IsActive }

// BookInput carries the editable fields of a book.
type BookInput struct {
	Title           string `json:"title" validate:"required,max=200"`
	Author          string `json:"author" validate:"required,max=100"`
	ISBN            string `json:"isbn" validate:"required,max=20"`
	Publisher       string `json:"publisher" validate:"max=100"`
	PublicationYear int    `json:"publication_year" validate:"gte=0"`
	Category        string `json:"category" validate:"max=50"`
	Description     string `json:"description"`
	Location        string `json:"location" validate:"max=50"`
	TotalCopies     int    `json:"total_copies" validate:"gte=0"`
}

// BookFilter narrows ListBooks. Zero values match everything.
type BookFilter struct {
	Query         string
	Category      string
	AvailableOnly bool
}

// User is a registered admin or student.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	StudentID    string    `json:"student_id,omitempty"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"` // Don't serialize password hash
	CreatedAt    time.Time `json:"created_at"`
	IsActive     bool      `json:"is_active"`
}

// Caller returns the identity this user acts with.
func (u *User) Caller() Caller { return Caller{ID: u.ID, Role: u.Role} }

// UserInput registers a new user. Password is plaintext and hashed by the manager.
type UserInput struct {
	Username  string `json:"username" validate:"required,max=80"`
	Email     string `json:"email" validate:"required,email,max=120"`
	Password  string `json:"-" validate:"required,min=6"`
	StudentID string `json:"student_id" validate:"max=30"`
	FullName  string `json:"full_name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"max=20"`
	Address   string `json:"address"`
	Role      Role   `json:"role" validate:"omitempty,oneof=admin student"`
}

// UserUpdate changes profile fields. A nil Role leaves the role untouched.
type UserUpdate struct {
	Email     string `json:"email" validate:"required,email,max=120"`
	StudentID string `json:"student_id" validate:"max=30"`
	FullName  string `json:"full_name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"max=20"`
	Address   string `json:"address"`
	Role      *Role  `json:"role,omitempty" validate:"omitempty,oneof=admin student"`
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Query string
	Role  Role
}

// LoanStatus is the stored or derived state of a loan.
type LoanStatus string

const (
	LoanIssued   LoanStatus = "issued"
	LoanOverdue  LoanStatus = "overdue"
	LoanReturned LoanStatus = "returned"
)

// Loan is one lending episode of a book to a user.
type Loan struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	BookID     int64      `json:"book_id"`
	IssueDate  time.Time  `json:"issue_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     LoanStatus `json:"status"`
	Notes      string     `json:"notes,omitempty"`
}

// IsOverdue reports whether the loan is unreturned and past due at now.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.ReturnDate == nil && now.After(l.DueDate)
}

// DaysOverdue is the number of whole days past due, or 0.
func (l *Loan) DaysOverdue(now time.Time) int {
	if !l.IsOverdue(now) {
		return 0
	}
	return int(now.Sub(l.DueDate) / (24 * time.Hour))
}

// StatusAt derives the status a reader should see at now. The stored status
// of an unreturned loan is ignored: a swept loan that was renewed past now
// reads as issued again.
func (l *Loan) StatusAt(now time.Time) LoanStatus {
	switch {
	case l.ReturnDate != nil || l.Status == LoanReturned:
		return LoanReturned
	case l.IsOverdue(now):
		return LoanOverdue
	default:
		return LoanIssued
	}
}

// LoanFilter narrows ListLoans. Status filters on the derived status.
type LoanFilter struct {
	Status LoanStatus
	UserID int64
	BookID int64
}

// IssueRequest asks for a book to be lent. LoanDays <= 0 means the configured default.
type IssueRequest struct {
	UserID   int64
	BookID   int64
	LoanDays int
	Notes    string
}

// ReturnReceipt describes a completed return and any fine it produced.
type ReturnReceipt struct {
	Loan *Loan `json:"loan"`
	Fine *Fine `json:"fine,omitempty"`
}

// FineStatus tracks how much of a fine has been settled.
type FineStatus string

const (
	FineUnpaid        FineStatus = "unpaid"
	FinePartiallyPaid FineStatus = "partially_paid"
	FinePaid          FineStatus = "paid"
)

// Fine is the penalty for returning a loan late.
type Fine struct {
	ID          int64           `json:"id"`
	LoanID      int64           `json:"loan_id"`
	DaysLate    int             `json:"days_late"`
	PerDayRate  decimal.Decimal `json:"per_day_rate"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Status      FineStatus      `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	PaidDate    *time.Time      `json:"paid_date,omitempty"`
}

// Remaining is the amount still owed.
func (f *Fine) Remaining() decimal.Decimal { return f.TotalAmount.Sub(f.PaidAmount) }

// fineStatusFor derives the status from the paid and total amounts.
func fineStatusFor(paid, total decimal.Decimal) FineStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return FinePaid
	case paid.IsPositive():
		return FinePartiallyPaid
	default:
		return FineUnpaid
	}
}

// FineFilter narrows ListFines.
type FineFilter struct {
	Status FineStatus
	UserID int64
}

// Payment is one applied installment against a fine.
type Payment struct {
	ID        int64           `json:"id"`
	FineID    int64           `json:"fine_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    time.Time       `json:"paid_at"`
}

// FineSummary aggregates the fines ledger for reporting.
type FineSummary struct {
	Count       int             `json:"count"`
	Unpaid      int             `json:"unpaid"`
	Partial     int             `json:"partially_paid"`
	Paid        int             `json:"paid"`
	Total       decimal.Decimal `json:"total"`
	Collected   decimal.Decimal `json:"collected"`
	Outstanding decimal.Decimal `json:"outstanding"`
}
