package domain

import (
	"errors"
	"slices"

	goaway "github.com/TwiN/go-away"
	"github.com/go-playground/validator/v10"
)

// Reducer rejection messages shown to the user.
const (
	MsgEmptyName         = "Names must not be empty"
	MsgUnknownUser       = "Cannot set name for unknown user"
	MsgRoomNotFound      = "Room not found"
	MsgEmptyMessage      = "Messages must not be empty"
	MsgInappropriate     = "Message is inappropriate"
	MsgInvalidPoint      = "Invalid point"
	MsgUnknownReducer    = "Unknown reducer"
	MsgMalformedArgument = "Malformed reducer arguments"
)

// validatorInstance caches validation rules for the whole package.
var validatorInstance = validator.New()

func init() {
	_ = validatorInstance.RegisterValidation("appropriate", validateAppropriate)
}

// profanity extends the library's dictionary with spellings seen in chat and
// food words its substring matching would otherwise reject.
var profanity = goaway.NewProfanityDetector().
	WithSanitizeLeetSpeak(true).
	WithSanitizeSpecialCharacters(true).
	WithSanitizeSpaces(true).
	WithCustomDictionary(
		append(slices.Clone(goaway.DefaultProfanities), "fuk"),
		append(slices.Clone(goaway.DefaultFalsePositives), "shitake", "shiitake", "scunthorpe"),
		goaway.DefaultFalseNegatives,
	)

func validateAppropriate(fl validator.FieldLevel) bool {
	return !IsInappropriate(fl.Field().String())
}

// IsInappropriate reports whether text contains profanity, including leet
// speak and letters split by spaces or punctuation.
func IsInappropriate(text string) bool {
	return profanity.IsProfane(text)
}

// RuleError is a reducer rejection. Its message is meant for the end user.
type RuleError struct {
	Message string
}

func (e *RuleError) Error() string { return e.Message }

// Reject builds a RuleError.
func Reject(msg string) error { return &RuleError{Message: msg} }

// RejectionMessage extracts the user facing message of err, falling back to
// the error text for anything that is not a RuleError.
func RejectionMessage(err error) string {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}

// firstFailedTag returns the tag of the first failed rule in err.
func firstFailedTag(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Tag()
	}
	return ""
}

// ValidateName checks a user name.
func ValidateName(name string) error {
	if err := validatorInstance.Var(name, "required"); err != nil {
		return Reject(MsgEmptyName)
	}
	return nil
}

// ValidateMessage checks the text of a chat message.
func ValidateMessage(text string) error {
	err := validatorInstance.Var(text, "required,appropriate")
	if err == nil {
		return nil
	}
	if firstFailedTag(err) == "appropriate" {
		return Reject(MsgInappropriate)
	}
	return Reject(MsgEmptyMessage)
}

// ValidatePoint checks a normalized pointer position.
func ValidatePoint(x, y float64) error {
	for _, v := range []float64{x, y} {
		if err := validatorInstance.Var(v, "gte=0,lte=100"); err != nil {
			return Reject(MsgInvalidPoint)
		}
	}
	return nil
}
