package payments

import (
	"context"

	"github.com/learnonline/payments-backend/internal/courses"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/enums"
)

// ensureEnrollment grants access for a completed course purchase that is not
// yet linked to an enrollment. It reports whether payment.EnrollmentID changed.
func ensureEnrollment(ctx context.Context, repo courses.Repository, payment *models.Payment) (bool, error) {
	if payment.Status != enums.PaymentStatusCompleted ||
		payment.PurchaseType != enums.PurchaseTypeCourse ||
		payment.EnrollmentID != nil ||
		payment.CourseID == nil {
		return false, nil
	}
	enrollment, _, err := repo.GetOrCreateEnrollment(ctx, payment.UserID, *payment.CourseID)
	if err != nil {
		return false, err
	}
	payment.EnrollmentID = &enrollment.ID
	return true, nil
}
