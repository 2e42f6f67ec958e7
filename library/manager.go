package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LibraryManager is a thin façade over the Database, keeping CLI code simple.
// It validates input, hashes passwords and logs every state change.
type LibraryManager struct {
	db       *Database
	validate *validator.Validate
	log      logrus.FieldLogger
	hash     func(string) (string, error)
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
// A nil logger falls back to the logrus standard logger.
func NewLibraryManager(dbPath string, log logrus.FieldLogger, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath, opts...)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LibraryManager{db: db, validate: validator.New(), log: log, hash: HashPassword}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// SchemaVersion reports the applied migration version.
func (lm *LibraryManager) SchemaVersion() (uint, error) { return lm.db.SchemaVersion() }

// Policy returns the lending rules in force.
func (lm *LibraryManager) Policy() Policy { return lm.db.policy }

// Now is the manager's clock, the same one that dates loans and fines.
func (lm *LibraryManager) Now() time.Time { return lm.db.clock() }

func (lm *LibraryManager) check(v any) error {
	if err := lm.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (lm *LibraryManager) checkPassword(pw string) error {
	if err := lm.validate.Var(pw, "required,min=6"); err != nil {
		return fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}
	return nil
}

// rejected logs a refused state change and passes err through.
func (lm *LibraryManager) rejected(op string, c Caller, err error) error {
	lm.log.WithFields(logrus.Fields{"op": op, "caller_id": c.ID, "kind": KindOf(err)}).WithError(err).Warn("operation rejected")
	return err
}

func normalizeBook(in BookInput) BookInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Category = strings.TrimSpace(in.Category)
	return in
}

// ------------------ Authentication ------------------

// Authenticate checks credentials and returns the active user.
func (lm *LibraryManager) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := lm.db.authenticate(ctx, strings.TrimSpace(username), password)
	if err != nil {
		lm.log.WithField("username", username).Warn("authentication failed")
		return nil, err
	}
	return u, nil
}

// EnsureDefaultAdmin bootstraps an administrator on an empty directory. The
// password is only hashed when one has to be created.
func (lm *LibraryManager) EnsureDefaultAdmin(ctx context.Context, in UserInput) (bool, error) {
	found, err := lm.db.HasAdmin(ctx)
	if err != nil || found {
		return false, err
	}
	in.Role = RoleAdmin
	if err := lm.check(in); err != nil {
		return false, err
	}
	hash, err := lm.hash(in.Password)
	if err != nil {
		return false, err
	}
	created, err := lm.db.EnsureAdmin(ctx, NewUser{UserInput: in, PasswordHash: hash})
	if err != nil {
		return false, err
	}
	if created {
		lm.log.WithField("username", in.Username).Info("default administrator created")
	}
	return created, nil
}

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddBook(ctx context.Context, c Caller, in BookInput) (*Book, error) {
	in = normalizeBook(in)
	if err := lm.check(in); err != nil {
		return nil, err
	}
	b, err := lm.db.AddBook(ctx, c, in)
	if err != nil {
		return nil, lm.rejected("add_book", c, err)
	}
	lm.log.WithFields(logrus.Fields{"book_id": b.ID, "isbn": b.ISBN, "copies": b.TotalCopies}).Info("book added")
	return b, nil
}

func (lm *LibraryManager) UpdateBook(ctx context.Context, c Caller, id int64, in BookInput) (*Book, error) {
	in = normalizeBook(in)
	if err := lm.check(in); err != nil {
		return nil, err
	}
	b, err := lm.db.UpdateBook(ctx, c, id, in)
	if err != nil {
		return nil, lm.rejected("update_book", c, err)
	}
	lm.log.WithFields(logrus.Fields{
		"book_id":   b.ID,
		"total":     b.TotalCopies,
		"available": b.AvailableCopies,
	}).Info("book updated")
	return b, nil
}

func (lm *LibraryManager) DeactivateBook(ctx context.Context, c Caller, id int64) error {
	if err := lm.db.DeactivateBook(ctx, c, id); err != nil {
		return lm.rejected("deactivate_book", c, err)
	}
	lm.log.WithField("book_id", id).Info("book deactivated")
	return nil
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) ListBooks(ctx context.Context, f BookFilter) ([]*Book, error) {
	return lm.db.ListBooks(ctx, f)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, q string) ([]*Book, error) {
	return lm.db.SearchBooks(ctx, q)
}

func (lm *LibraryManager) Categories(ctx context.Context) ([]string, error) {
	return lm.db.Categories(ctx)
}

// ------------------ Directory ------------------

// AddUser registers a user, hashing the plaintext password.
func (lm *LibraryManager) AddUser(ctx context.Context, c Caller, in UserInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := lm.check(in); err != nil {
		return nil, err
	}
	hash, err := lm.hash(in.Password)
	if err != nil {
		return nil, err
	}
	u, err := lm.db.AddUser(ctx, c, NewUser{UserInput: in, PasswordHash: hash})
	if err != nil {
		return nil, lm.rejected("add_user", c, err)
	}
	lm.log.WithFields(logrus.Fields{"user_id": u.ID, "username": u.Username, "role": u.Role}).Info("user added")
	return u, nil
}

func (lm *LibraryManager) UpdateUser(ctx context.Context, c Caller, id int64, up UserUpdate) (*User, error) {
	if err := lm.check(up); err != nil {
		return nil, err
	}
	u, err := lm.db.UpdateUser(ctx, c, id, up)
	if err != nil {
		return nil, lm.rejected("update_user", c, err)
	}
	lm.log.WithField("user_id", u.ID).Info("user updated")
	return u, nil
}

func (lm *LibraryManager) DeactivateUser(ctx context.Context, c Caller, id int64) error {
	if err := lm.db.DeactivateUser(ctx, c, id); err != nil {
		return lm.rejected("deactivate_user", c, err)
	}
	lm.log.WithField("user_id", id).Info("user deactivated")
	return nil
}

func (lm *LibraryManager) GetUser(ctx context.Context, c Caller, id int64) (*User, error) {
	return lm.db.GetUser(ctx, c, id)
}

func (lm *LibraryManager) ListUsers(ctx context.Context, c Caller, f UserFilter) ([]*User, error) {
	return lm.db.ListUsers(ctx, c, f)
}

// ChangePassword replaces the caller's own password after checking the current one.
func (lm *LibraryManager) ChangePassword(ctx context.Context, c Caller, current, next string) error {
	if err := lm.checkPassword(next); err != nil {
		return err
	}
	u, err := lm.db.GetUser(ctx, c, c.ID)
	if err != nil {
		return err
	}
	if !checkPassword(u.PasswordHash, current) {
		return fmt.Errorf("current password is incorrect: %w", ErrForbidden)
	}
	hash, err := lm.hash(next)
	if err != nil {
		return err
	}
	if err := lm.db.SetPasswordHash(ctx, c, c.ID, hash); err != nil {
		return err
	}
	lm.log.WithField("user_id", c.ID).Info("password changed")
	return nil
}

// ResetPassword sets another user's password. Administrators only.
func (lm *LibraryManager) ResetPassword(ctx context.Context, c Caller, userID int64, password string) error {
	if !lm.db.gate.IsAdmin(c) {
		return forbidden("only administrators can reset passwords")
	}
	if err := lm.checkPassword(password); err != nil {
		return err
	}
	hash, err := lm.hash(password)
	if err != nil {
		return err
	}
	if err := lm.db.SetPasswordHash(ctx, c, userID, hash); err != nil {
		return err
	}
	lm.log.WithFields(logrus.Fields{"user_id": userID, "by": c.ID}).Info("password reset")
	return nil
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) IssueBook(ctx context.Context, c Caller, req IssueRequest) (*Loan, error) {
	if req.LoanDays < 0 {
		return nil, fmt.Errorf("%w: loan days must not be negative", ErrInvalidInput)
	}
	l, err := lm.db.IssueBook(ctx, c, req)
	if err != nil {
		return nil, lm.rejected("issue_book", c, err)
	}
	lm.log.WithFields(logrus.Fields{
		"loan_id": l.ID,
		"user_id": l.UserID,
		"book_id": l.BookID,
		"due":     l.DueDate.Format("2006-01-02"),
	}).Info("book issued")
	return l, nil
}

func (lm *LibraryManager) ReturnBook(ctx context.Context, c Caller, loanID int64) (*ReturnReceipt, error) {
	r, err := lm.db.ReturnBook(ctx, c, loanID)
	if err != nil {
		return nil, lm.rejected("return_book", c, err)
	}
	entry := lm.log.WithFields(logrus.Fields{"loan_id": loanID, "book_id": r.Loan.BookID})
	if r.Fine != nil {
		entry = entry.WithFields(logrus.Fields{"fine_id": r.Fine.ID, "fine": r.Fine.TotalAmount.StringFixed(2)})
	}
	entry.Info("book returned")
	return r, nil
}

func (lm *LibraryManager) RenewLoan(ctx context.Context, c Caller, loanID int64, days int) (*Loan, error) {
	l, err := lm.db.RenewLoan(ctx, c, loanID, days)
	if err != nil {
		return nil, lm.rejected("renew_loan", c, err)
	}
	lm.log.WithFields(logrus.Fields{"loan_id": l.ID, "due": l.DueDate.Format("2006-01-02")}).Info("loan renewed")
	return l, nil
}

func (lm *LibraryManager) SweepOverdue(ctx context.Context, c Caller) (int64, error) {
	n, err := lm.db.SweepOverdue(ctx, c)
	if err != nil {
		return 0, lm.rejected("sweep_overdue", c, err)
	}
	lm.log.WithField("promoted", n).Info("overdue sweep finished")
	return n, nil
}

func (lm *LibraryManager) GetLoan(ctx context.Context, c Caller, id int64) (*Loan, error) {
	return lm.db.GetLoan(ctx, c, id)
}

func (lm *LibraryManager) ListLoans(ctx context.Context, c Caller, f LoanFilter) ([]*Loan, error) {
	return lm.db.ListLoans(ctx, c, f)
}

func (lm *LibraryManager) ListOverdue(ctx context.Context, c Caller) ([]*Loan, error) {
	return lm.db.ListOverdue(ctx, c)
}

// BookHistory lists every loan of a book. Administrators only.
func (lm *LibraryManager) BookHistory(ctx context.Context, c Caller, bookID int64) ([]*Loan, error) {
	if !lm.db.gate.IsAdmin(c) {
		return nil, forbidden("only administrators can view a book's history")
	}
	if _, err := lm.db.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return lm.db.ListLoans(ctx, c, LoanFilter{BookID: bookID})
}

// ------------------ Fines ------------------

func (lm *LibraryManager) PayFine(ctx context.Context, c Caller, fineID int64, amount decimal.Decimal) (*Fine, *Payment, error) {
	f, p, err := lm.db.PayFine(ctx, c, fineID, amount)
	if err != nil {
		return nil, nil, lm.rejected("pay_fine", c, err)
	}
	lm.log.WithFields(logrus.Fields{
		"fine_id":   f.ID,
		"reference": p.Reference,
		"applied":   p.Amount.StringFixed(2),
		"status":    f.Status,
	}).Info("fine payment recorded")
	return f, p, nil
}

func (lm *LibraryManager) GetFine(ctx context.Context, c Caller, id int64) (*Fine, error) {
	return lm.db.GetFine(ctx, c, id)
}

func (lm *LibraryManager) ListFines(ctx context.Context, c Caller, f FineFilter) ([]*Fine, error) {
	return lm.db.ListFines(ctx, c, f)
}

func (lm *LibraryManager) ListPayments(ctx context.Context, c Caller, fineID int64) ([]*Payment, error) {
	return lm.db.ListPayments(ctx, c, fineID)
}

func (lm *LibraryManager) FineSummary(ctx context.Context, c Caller) (*FineSummary, error) {
	return lm.db.Summary(ctx, c)
}

// ------------------ Reports ------------------

func (lm *LibraryManager) UserActivity(ctx context.Context, c Caller) ([]UserActivity, error) {
	return lm.db.UserActivity(ctx, c)
}

func (lm *LibraryManager) BookStatistics(ctx context.Context, c Caller) (*BookStatistics, error) {
	return lm.db.BookStatistics(ctx, c)
}

func (lm *LibraryManager) DailySummary(ctx context.Context, c Caller) (*DailySummary, error) {
	return lm.db.DailySummary(ctx, c)
}

func (lm *LibraryManager) IssuedReport(ctx context.Context, c Caller) (*IssuedReport, error) {
	return lm.db.IssuedReport(ctx, c)
}

func (lm *LibraryManager) AvailableReport(ctx context.Context, c Caller) (*AvailableReport, error) {
	return lm.db.AvailableReport(ctx, c)
}
