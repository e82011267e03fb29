package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/screentask/screentask/internal/models"
)

// scheduledDateLayout is the wire format for scheduled dates.
const scheduledDateLayout = "2006-01-02"

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Register custom validators for enums
	// These should never fail in normal operation, but log if they do
	if err := Validate.RegisterValidation("scheduled_date", validateScheduledDate); err != nil {
		panic(fmt.Sprintf("failed to register scheduled_date validator: %v", err))
	}
	if err := Validate.RegisterValidation("media_type", validateMediaType); err != nil {
		panic(fmt.Sprintf("failed to register media_type validator: %v", err))
	}
	if err := Validate.RegisterValidation("extraction_status", validateExtractionStatus); err != nil {
		panic(fmt.Sprintf("failed to register extraction_status validator: %v", err))
	}
}

// validateScheduledDate accepts an empty string (clears the date) or a
// calendar date in YYYY-MM-DD form
func validateScheduledDate(fl validator.FieldLevel) bool {
	return ValidateScheduledDate(fl.Field().String()) == nil
}

// validateMediaType validates a screenshot media type
func validateMediaType(fl validator.FieldLevel) bool {
	return ValidateMediaType(fl.Field().String()) == nil
}

// validateExtractionStatus validates an ExtractionStatus enum value
func validateExtractionStatus(fl validator.FieldLevel) bool {
	switch models.ExtractionStatus(fl.Field().String()) {
	case models.ExtractionStatusPending, models.ExtractionStatusDone, models.ExtractionStatusFailed:
		return true
	default:
		return false
	}
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateScheduledDate validates a scheduled date string. Empty is allowed
// and means the date is being cleared.
func ValidateScheduledDate(value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(scheduledDateLayout, value); err != nil {
		return fmt.Errorf("invalid scheduled date: %s (must be YYYY-MM-DD)", value)
	}
	return nil
}

// ValidateMediaType validates a screenshot media type
func ValidateMediaType(value string) error {
	switch value {
	case "", "image/png", "image/jpeg", "image/webp", "image/gif":
		return nil
	default:
		return fmt.Errorf("unsupported media type: %s", value)
	}
}
