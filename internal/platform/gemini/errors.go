package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the transcriber configuration is incomplete.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the API response carries no usable text.
	ErrInvalidResponse = errors.New("invalid response from gemini")

	// ErrContentBlocked is returned when the safety filters blocked the response.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrTransientFailure is returned when every retry failed.
	ErrTransientFailure = errors.New("transient gemini failure")

	// ErrEmptyAudio is returned for a zero length audio file.
	ErrEmptyAudio = errors.New("audio file is empty")
)
