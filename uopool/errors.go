package uopool

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// JSON-RPC error codes of the bundler namespace.
const (
	InvalidFields          = -32602
	SimulateValidation     = -32500
	SimulatePaymasterValid = -32501
	OpcodeValidation       = -32502
	ExpiresShortly         = -32503
	Reputation             = -32504
	StakeTooLow            = -32505
	UnsupportedAggregator  = -32506
	InvalidSignature       = -32507
	InternalError          = -32603
	MethodNotFound         = -32601
)

var (
	ErrUnsupportedEntryPoint = errors.New("entry point is not supported")
	ErrNotFound              = errors.New("user operation not found")
)

// ValidationError is an admission rejection carrying the JSON-RPC code the
// façade returns to the caller.
type ValidationError struct {
	Code    int
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(code int, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

var codeToGRPC = map[int]codes.Code{
	InvalidFields:      codes.InvalidArgument,
	SimulateValidation: codes.FailedPrecondition,
	StakeTooLow:        codes.PermissionDenied,
	InvalidSignature:   codes.Unauthenticated,
	ExpiresShortly:     codes.DeadlineExceeded,
	InternalError:      codes.Internal,
}

// GRPCStatus lets grpc-go carry the rejection across the wire.
func (e *ValidationError) GRPCStatus() *status.Status {
	c, ok := codeToGRPC[e.Code]
	if !ok {
		c = codes.Unknown
	}
	return status.New(c, e.Message)
}

// FromGRPCError turns a status returned by the pool service back into a
// *ValidationError. Transport failures map to InternalError.
func FromGRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for code, grpcCode := range codeToGRPC {
		if grpcCode == st.Code() {
			return &ValidationError{Code: code, Message: st.Message()}
		}
	}
	if st.Code() == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	}
	return &ValidationError{Code: InternalError, Message: st.Message()}
}
