// Package gemini implements the transcribe.Engine interface with Google's
// Gemini API.
//
// Audio files are sent inline together with a transcription prompt. Calls
// that fail for transient reasons are retried with exponential backoff and
// jitter; blocked or empty responses are permanent failures. Files whose
// extension has no supported audio MIME type are rejected with
// transcribe.ErrUnsupportedFormat before any request is made.
package gemini
