// Package errs defines the error taxonomy shared by the artifact store, the
// model builder, the generation controller and the federated aggregator.
//
// Every concrete type matches a sentinel through errors.Is so the transport
// layer can classify failures without knowing where they came from.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrDeserialization    = errors.New("deserialization error")
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrMissingArtifact    = errors.New("missing artifact")
	ErrImageDecode        = errors.New("image decode error")
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrSealed             = errors.New("artifact sealed")
	ErrInvalidInput       = errors.New("invalid input")
)

// DeserializationError reports a malformed configuration document, tensor
// archive or weight payload.
type DeserializationError struct {
	What string
	Err  error
}

func (e *DeserializationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("deserialize %s", e.What)
	}
	return fmt.Sprintf("deserialize %s: %v", e.What, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

func (e *DeserializationError) Is(target error) bool { return target == ErrDeserialization }

// NewDeserialization wraps err as a DeserializationError about what.
func NewDeserialization(what string, err error) *DeserializationError {
	return &DeserializationError{What: what, Err: err}
}

// ShapeMismatchError reports a vector length or tensor dimension that does
// not match what the operation requires.
type ShapeMismatchError struct {
	What string
	Want any
	Got  any
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %v, got %v", e.What, e.Want, e.Got)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

func NewShapeMismatch(what string, want, got any) *ShapeMismatchError {
	return &ShapeMismatchError{What: what, Want: want, Got: got}
}

// MissingArtifactError reports a required artifact that is empty at read time.
type MissingArtifactError struct {
	Key string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("artifact %q is empty", e.Key)
}

func (e *MissingArtifactError) Is(target error) bool { return target == ErrMissingArtifact }

func NewMissingArtifact(key string) *MissingArtifactError {
	return &MissingArtifactError{Key: key}
}

// ImageDecodeError reports image bytes that could not be decoded.
type ImageDecodeError struct {
	Err error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("image decode error: %v", e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

func (e *ImageDecodeError) Is(target error) bool { return target == ErrImageDecode }

// NotInitializedError reports inference requested before the process state
// it needs was built.
type NotInitializedError struct {
	What string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s not initialized", e.What)
}

func (e *NotInitializedError) Is(target error) bool { return target == ErrNotInitialized }

func IsDeserialization(err error) bool { return errors.Is(err, ErrDeserialization) }

func IsShapeMismatch(err error) bool { return errors.Is(err, ErrShapeMismatch) }

func IsMissingArtifact(err error) bool { return errors.Is(err, ErrMissingArtifact) }

func IsImageDecode(err error) bool { return errors.Is(err, ErrImageDecode) }

func IsNotInitialized(err error) bool { return errors.Is(err, ErrNotInitialized) }
