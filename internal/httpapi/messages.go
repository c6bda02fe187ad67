package httpapi

// Client-facing error messages. None of them carries store detail.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgTooManyRequests    = "Too many requests"
	msgFieldsRequired     = "Global ID and password are required"
	msgInvalidGlobalID    = "Invalid Global ID format"
	msgInvalidBody        = "Invalid request body"
	msgBodyTooLarge       = "Request body too large"
	msgSessionExpired     = "Session expired, please log in again"
	msgSelfDeleteDenied   = "This account cannot be deleted here"
	msgDeletionFailed     = "Account deletion failed"
	msgSignOutFailed      = "Sign out failed"
)
