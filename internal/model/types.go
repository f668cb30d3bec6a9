// Package model holds the persisted entity types shared by the store, the
// cache registry and the domain services.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Availability is the catalog-level availability of a book.
type Availability string

const (
	Available     Availability = "AVAILABLE"
	NotAvailable  Availability = "NOT_AVAILABLE"
	SoonAvailable Availability = "SOON_AVAILABLE"
)

// CopyStatus is the state of one physical copy.
type CopyStatus string

const (
	CopyAvailable     CopyStatus = "AVAILABLE"
	CopyNotAvailable  CopyStatus = "NOT_AVAILABLE"
	CopySoonAvailable CopyStatus = "SOON_AVAILABLE"
)

// LoanStatus is the state of a borrow record.
type LoanStatus string

const (
	LoanReturned LoanStatus = "RETURNED"
	LoanBorrowed LoanStatus = "BORROWED"
	LoanReserved LoanStatus = "RESERVED"
)

// Active reports whether the loan still holds its copy.
func (s LoanStatus) Active() bool {
	return s == LoanBorrowed || s == LoanReserved
}

// ReservationStatus is the state of a queued claim on a book.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Permission is a user's role.
type Permission string

const (
	Student   Permission = "STUDENT"
	Employee  Permission = "EMPLOYEE"
	Professor Permission = "PROFESSOR"
	Admin     Permission = "ADMIN"
)

// Staff reports whether the role may look at other users' records.
func (p Permission) Staff() bool {
	return p == Employee || p == Professor || p == Admin
}

// Book is a catalog record. AvailableCopies, TotalCopies, TimesBorrowed and the
// rating fields are denormalized from copies and loans.
type Book struct {
	ID              uuid.UUID    `json:"book_id"`
	Title           string       `json:"title"`
	Author          string       `json:"author,omitempty"`
	ISBN            string       `json:"isbn"`
	Publisher       string       `json:"publisher,omitempty"`
	Description     string       `json:"description,omitempty"`
	Year            int          `json:"year,omitempty"`
	TotalCopies     int          `json:"total_copies"`
	AvailableCopies int          `json:"available_copies"`
	TimesBorrowed   int          `json:"times_borrowed"`
	AverageRating   float64      `json:"average_rating"`
	CountRating     int          `json:"count_rating"`
	SumRating       int          `json:"sum_rating"`
	Availability    Availability `json:"availability"`
	Version         int          `json:"version"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Copy is one physical exemplar of a Book.
type Copy struct {
	ID        uuid.UUID  `json:"book_copy_id"`
	BookID    uuid.UUID  `json:"book_id"`
	Status    CopyStatus `json:"status"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
}

// Loan is one borrowing episode of a copy. ReturnDate holds the due date
// while the loan is active and the actual return time once RETURNED.
type Loan struct {
	ID         uuid.UUID  `json:"borrow_record_id"`
	CopyID     uuid.UUID  `json:"book_copy_id"`
	BookID     uuid.UUID  `json:"book_id"`
	UserID     uuid.UUID  `json:"user_id"`
	BorrowDate time.Time  `json:"borrow_date"`
	ReturnDate time.Time  `json:"return_date"`
	Status     LoanStatus `json:"status"`
	Rating     *int       `json:"rating,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Reservation is a queued claim on a book, pointed at the copy expected to
// free up first.
type Reservation struct {
	ID         uuid.UUID         `json:"reservation_id"`
	BookID     uuid.UUID         `json:"book_id"`
	CopyID     uuid.UUID         `json:"bookCopyId"`
	LoanID     uuid.UUID         `json:"borrowRecord"`
	UserID     uuid.UUID         `json:"user_id"`
	StartDate  time.Time         `json:"startDate"`
	ReturnDate time.Time         `json:"returnDate"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"reservation_date"`
}

// User is a registered library account.
type User struct {
	ID           uuid.UUID  `json:"user_id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	PasswordSalt string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	ImageURL     string     `json:"imageurl,omitempty"`
	Permissions  Permission `json:"permissions"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Session binds an opaque token to a user and the device it was issued to.
type Session struct {
	ID         uuid.UUID `json:"session_id"`
	UserID     uuid.UUID `json:"user_id"`
	Token      string    `json:"-"`
	IP         string    `json:"ip"`
	DeviceInfo string    `json:"device_info"`
	Created    time.Time `json:"created"`
	LastUsed   time.Time `json:"last_used"`
}
