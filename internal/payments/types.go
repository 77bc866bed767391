package payments

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/learnonline/payments-backend/pkg/enums"
)

// OutcomeCode is the stable machine-readable reason attached to an Outcome.
// Successful outcomes carry an empty code.
type OutcomeCode string

const (
	CodeValidationError       OutcomeCode = "validation_error"
	CodeCourseExpired         OutcomeCode = "course_expired"
	CodeAlreadyEnrolled       OutcomeCode = "already_enrolled"
	CodeAlreadyHasCertificate OutcomeCode = "already_has_certificate"
	CodePaymentInProgress     OutcomeCode = "payment_in_progress"
	CodePaymentFailed         OutcomeCode = "payment_failed"
	CodeProcessingFailed      OutcomeCode = "processing_failed"
)

const (
	msgInvalidFields       = "Invalid or missing fields"
	msgInvalidCard         = "Invalid card number"
	msgCourseExpired       = "This course has expired and is no longer available for enrollment or certificate purchase."
	msgAlreadyCompleted    = "Payment already completed"
	msgInProgress          = "A payment is already in progress for this order. Please wait or try again shortly."
	msgAlreadyEnrolled     = "You already have access to this course"
	msgAlreadyCertified    = "You already have a certificate for this course"
	msgEnrollmentRequired  = "You need to enroll in the course before purchasing a certificate."
	msgProcessed           = "Payment processed successfully"
	msgAwaitingProcessor   = "Payment submitted and awaiting confirmation from the processor"
	msgPaymentFailed       = "Payment failed"
	msgProcessingFailed    = "Payment processing failed"
	msgSelectPaymentMethod = "Please select a payment method."
	msgInvalidMethod       = "Select a valid payment method."
	msgInvalidPurchaseType = "Select a valid purchase type."
	msgFieldRequired       = "This field is required."
	msgCardholderName      = "Please enter cardholder name."
	msgBillingAddress      = "Please enter billing address."
	msgZipCode             = "Please enter zip code."
	msgEmailRequired       = "Email is required."
)

// maxUserAgentLength matches payment_logs.user_agent.
const maxUserAgentLength = 500

// Actor is the authenticated user a payment is made for.
type Actor struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

// RequestMeta carries the requester details written to payment logs. Both
// fields are empty for system-originated transitions.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

func (m RequestMeta) ipPtr() *string {
	ip := strings.TrimSpace(m.IPAddress)
	if ip == "" {
		return nil
	}
	return &ip
}

func (m RequestMeta) userAgentPtr() *string {
	ua := strings.TrimSpace(m.UserAgent)
	if ua == "" {
		return nil
	}
	ua = strings.ToValidUTF8(ua, "")
	if utf8.RuneCountInString(ua) > maxUserAgentLength {
		ua = string([]rune(ua)[:maxUserAgentLength])
	}
	return &ua
}

// PaymentForm is the checkout form as submitted. CardType is the legacy alias
// of PaymentMethod.
type PaymentForm struct {
	PaymentMethod  string `json:"payment_method"`
	CardType       string `json:"card_type"`
	CardNumber     string `json:"card_number"`
	CardholderName string `json:"cardholder_name"`
	ExpiryDate     string `json:"expiry_date"`
	CVV            string `json:"cvv"`
	BillingAddress string `json:"billing_address"`
	ZipCode        string `json:"zip_code"`
	PhoneNumber    string `json:"phone_number"`
	Email          string `json:"email"`
	PurchaseType   string `json:"purchase_type"`
	ClientToken    string `json:"client_token"`
	SourceToken    string `json:"source_token"`
}

// Method returns the selected method, falling back to CardType.
func (f PaymentForm) Method() string {
	if m := strings.TrimSpace(f.PaymentMethod); m != "" {
		return m
	}
	return strings.TrimSpace(f.CardType)
}

// ProcessInput is everything Process needs for one checkout submission.
type ProcessInput struct {
	Actor          Actor
	CourseID       uuid.UUID
	PurchaseType   string
	Form           PaymentForm
	IdempotencyKey string
	Request        RequestMeta
}

// Outcome is the structured result of Process. HTTPStatus is the status the
// API layer should answer with.
type Outcome struct {
	Success       bool                `json:"success"`
	Code          OutcomeCode         `json:"code"`
	Message       string              `json:"message"`
	Errors        map[string][]string `json:"errors"`
	TransactionID string              `json:"transaction_id"`
	RedirectURL   string              `json:"redirect_url"`
	HTTPStatus    int                 `json:"-"`
}

// MarshalJSON writes an empty code, transaction id or redirect url as null.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Success       bool                `json:"success"`
		Code          *OutcomeCode        `json:"code"`
		Message       string              `json:"message"`
		Errors        map[string][]string `json:"errors"`
		TransactionID *string             `json:"transaction_id"`
		RedirectURL   *string             `json:"redirect_url"`
	}{
		Success:       o.Success,
		Code:          nullable(o.Code),
		Message:       o.Message,
		Errors:        o.Errors,
		TransactionID: nullable(o.TransactionID),
		RedirectURL:   nullable(o.RedirectURL),
	})
}

func nullable[T ~string](v T) *T {
	if v == "" {
		return nil
	}
	return &v
}

func successOutcome(message, transactionID string) Outcome {
	return Outcome{
		Success:       true,
		Message:       message,
		Errors:        map[string][]string{},
		TransactionID: transactionID,
		RedirectURL:   SuccessURL(transactionID),
		HTTPStatus:    http.StatusOK,
	}
}

func failureOutcome(code OutcomeCode, message string, errs map[string][]string) Outcome {
	if errs == nil {
		errs = map[string][]string{}
	}
	status := http.StatusBadRequest
	if code == CodePaymentInProgress {
		status = http.StatusConflict
	}
	return Outcome{
		Code:       code,
		Message:    message,
		Errors:     errs,
		HTTPStatus: status,
	}
}

func (o Outcome) withTransaction(transactionID string) Outcome {
	o.TransactionID = transactionID
	return o
}

// SuccessURL is the page a client is redirected to after a successful payment.
func SuccessURL(transactionID string) string {
	return "/payments/success/" + transactionID
}

// metricCode labels an outcome for payments_outcomes_total.
func (o Outcome) metricCode() string {
	if o.Success {
		return "success"
	}
	return string(o.Code)
}

// purchaseTypeOf parses the purchase type, preferring the form field over the
// route value.
func purchaseTypeOf(route, form string) (enums.PurchaseType, error) {
	if strings.TrimSpace(form) != "" {
		return enums.ParsePurchaseType(form)
	}
	return enums.ParsePurchaseType(route)
}
