package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrEmailTaken         ErrCode = "EMAIL_TAKEN"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrUnauthenticated    ErrCode = "UNAUTHENTICATED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"
	ErrProfileIncomplete ErrCode = "PROFILE_INCOMPLETE"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAnswer  ErrCode = "INVALID_ANSWER_KEY"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrConflict         ErrCode = "CONFLICT"
	ErrDependencyExists ErrCode = "DEPENDENCY_EXISTS"
	ErrActionForbidden  ErrCode = "ACTION_FORBIDDEN"

	// ─── Test runs ─────────────────────────────────────────────────────
	ErrTestNotFound      ErrCode = "TEST_NOT_FOUND"
	ErrRunNotFound       ErrCode = "RUN_NOT_FOUND"
	ErrRunNotActive      ErrCode = "RUN_NOT_ACTIVE"
	ErrSubmitInProgress  ErrCode = "SUBMIT_IN_PROGRESS"
	ErrPersistenceFailed ErrCode = "PERSISTENCE_FAILED"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrUnknownOption     ErrCode = "UNKNOWN_OPTION"
	ErrIndexOutOfRange   ErrCode = "INDEX_OUT_OF_RANGE"
	ErrQuestionsMismatch ErrCode = "QUESTIONS_OUTSIDE_SUBJECT"

	// ─── Chat ──────────────────────────────────────────────────────────
	ErrParentOutsideChannel ErrCode = "PARENT_OUTSIDE_CHANNEL"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Incorrect email or password."
	case ErrEmailTaken:
		return "An account with this email already exists."
	case ErrSessionInvalidated:
		return "Your session has ended. Please log in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."
	case ErrUnauthenticated:
		return "You must be logged in to submit this test."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is limited to learners."
	case ErrAdminAccessOnly:
		return "This resource is limited to administrators."
	case ErrProfileIncomplete:
		return "Complete your profile before continuing."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidAnswer:
		return "Single-select questions need exactly one correct option, multi-select at least one."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."
	case ErrDependencyExists:
		return "This item is still referenced by other data and cannot be deleted."
	case ErrActionForbidden:
		return "This action is not allowed."

	// ─── Test runs ─────────────────────────────────────────────────────
	case ErrTestNotFound:
		return "This test does not exist or has no questions."
	case ErrRunNotFound:
		return "Test run not found or expired."
	case ErrRunNotActive:
		return "This test run is no longer accepting answers."
	case ErrSubmitInProgress:
		return "The test is already being submitted."
	case ErrPersistenceFailed:
		return "Your answers could not be saved. They are kept, please retry."
	case ErrUnknownQuestion:
		return "The question is not part of this test."
	case ErrUnknownOption:
		return "The option does not belong to this question."
	case ErrIndexOutOfRange:
		return "Question index is out of range."
	case ErrQuestionsMismatch:
		return "Every question must belong to the test's subject."

	// ─── Chat ──────────────────────────────────────────────────────────
	case ErrParentOutsideChannel:
		return "Replies must stay in the parent message's channel."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
