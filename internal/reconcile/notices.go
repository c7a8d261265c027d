package reconcile

import (
	"fmt"

	"github.com/mrlokans/librarian/internal/entities"
)

const (
	dueSoonTitle    = "Book due soon"
	newPenaltyTitle = "New penalty"
)

func bookLabel(loan *entities.LoanRecord) string {
	if loan.Book != nil && loan.Book.Title != "" {
		return fmt.Sprintf("%q", loan.Book.Title)
	}
	return fmt.Sprintf("Book #%d", loan.BookID)
}

func dueSoonNotice(loan *entities.LoanRecord) *entities.Notification {
	return &entities.Notification{
		UserID: loan.UserID,
		Title:  dueSoonTitle,
		Message: fmt.Sprintf("%s is due on %s. Please return it on time to avoid a late fee.",
			bookLabel(loan), loan.DueDate.Format("2006-01-02")),
		Type: entities.NotificationTypeBorrowDue,
	}
}

func penaltyNotice(loan *entities.LoanRecord, days, amount int64) *entities.Notification {
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return &entities.Notification{
		UserID: loan.UserID,
		Title:  newPenaltyTitle,
		Message: fmt.Sprintf("%s is %d %s overdue (due %s). A late fee of %d has been issued.",
			bookLabel(loan), days, unit, loan.DueDate.Format("2006-01-02"), amount),
		Type: entities.NotificationTypeSystem,
	}
}
