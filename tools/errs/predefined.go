package errs

// Error codes for the collaboration core. 11xx is the collab range; none of
// these are fatal to the process.
const (
	PermissionDeniedCode      = 1101
	CollaborationDisabledCode = 1102
	InvalidOperationCode      = 1103
	StoreErrorCode            = 1104
	StaleSessionCode          = 1105
	RoomClosedCode            = 1106
	TokenInvalidCode          = 1107
)

var (
	ErrPermissionDenied      = NewCodeError(PermissionDeniedCode, "PermissionDenied")
	ErrCollaborationDisabled = NewCodeError(CollaborationDisabledCode, "CollaborationDisabled")
	ErrInvalidOperation      = NewCodeError(InvalidOperationCode, "InvalidOperation")
	ErrStoreError            = NewCodeError(StoreErrorCode, "StoreError")
	ErrStaleSession          = NewCodeError(StaleSessionCode, "StaleSession")
	ErrRoomClosed            = NewCodeError(RoomClosedCode, "RoomClosed")
	ErrTokenInvalid          = NewCodeError(TokenInvalidCode, "TokenInvalid")
)
