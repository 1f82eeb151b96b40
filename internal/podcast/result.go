package podcast

import (
	perrors "github.com/jmgilman/go/errors"

	"github.com/yangwenmai/gitpodcast/internal/model"
)

// Messages shown to callers. Backend errors that carry their own text use it instead.
const (
	MsgRateLimited = "Rate limit exceeded. Please try again later."
	MsgGenerate    = "Failed to generate diagram. Please try again later."
	MsgModify      = "Failed to modify diagram. Please try again later."
	MsgAudio       = "Failed to generate audio. Please try again later."
	MsgCost        = "Failed to get cost estimate."
	MsgNoExisting  = "No existing diagram or explanation found to modify"
	MsgNotCached   = "No cached diagram found for this repository"
)

// Failure is the error half of a Result.
type Failure struct {
	Code           perrors.ErrorCode
	Message        string
	RequiresAPIKey bool
	// Err is the underlying error, kept for logging.
	Err error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

// RateLimited reports whether the backend refused the call for rate limiting.
func (f *Failure) RateLimited() bool { return f.Code == model.CodeRateLimited }

// Result is either a value or a Failure; callers check Failure before using Value.
type Result[T any] struct {
	Value   T
	Failure *Failure
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Failure == nil }

func ok[T any](v T) Result[T] { return Result[T]{Value: v} }

func fail[T any](f *Failure) Result[T] { return Result[T]{Failure: f} }

// failure maps an error from the key, cache or backend layer onto a Failure.
// generic is the message used for backend and transport errors without text
// of their own.
func failure(err error, generic string) *Failure {
	code := perrors.GetCode(err)
	f := &Failure{Code: code, Message: generic, Err: err, RequiresAPIKey: model.RequiresAPIKey(err)}

	var pe perrors.PlatformError
	switch code {
	case model.CodeRateLimited:
		f.Message = MsgRateLimited
	case model.CodeInvalidKey, model.CodeInvalidInput:
		if perrors.As(err, &pe) {
			f.Message = pe.Message()
		}
	case model.CodeBackend:
		if msg := model.BackendMessage(err); msg != "" {
			f.Message = msg
		}
	}
	return f
}
