package errors

import (
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

// Is reports whether any error in err's chain carries this code.
func (c Code[MT]) Is(err error) bool {
	var structuredErr Error
	if !errors.As(err, &structuredErr) {
		return false
	}
	return structuredErr.Code() == c.Code
}

// Is and As are shorthands for the standard library helpers, so that callers importing
// this package don't need to alias it.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err != nil {
		return metadata
	}
	var genericMap map[string]any
	if err := json.Unmarshal(buf, &genericMap); err != nil {
		return metadata
	}
	for k, v := range genericMap {
		if v == nil {
			metadata[k] = ""
			continue
		}
		metadata[k] = fmt.Sprintf("%v", v)
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type AssetMetadata struct {
	AssetID string `json:"asset_id"`
}

type TransferMetadata struct {
	TransferID string `json:"transfer_id"`
}

type TransferStateMetadata struct {
	TransferID string `json:"transfer_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type InsufficientFundsMetadata struct {
	AssetID   string `json:"asset_id,omitempty"`
	Requested uint64 `json:"requested"`
	Available uint64 `json:"available"`
}

type LinkMetadata struct {
	Endpoint string `json:"endpoint"`
}

type RelayRejectedMetadata struct {
	TransferID string `json:"transfer_id"`
	Reason     string `json:"reason"`
}

type TimeoutMetadata struct {
	Operation string `json:"operation"`
}

type InvoiceMetadata struct {
	Invoice string `json:"invoice"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", grpccodes.Internal}
var INVALID_ARGUMENT = Code[map[string]any]{1, "INVALID_ARGUMENT", grpccodes.InvalidArgument}
var WALLET_OFFLINE = Code[any]{2, "WALLET_OFFLINE", grpccodes.FailedPrecondition}
var ALREADY_INITIALIZED = Code[any]{3, "ALREADY_INITIALIZED", grpccodes.AlreadyExists}
var CONNECTION_IN_PROGRESS = Code[any]{4, "CONNECTION_IN_PROGRESS", grpccodes.Unavailable}
var LINK_UNAVAILABLE = Code[LinkMetadata]{5, "LINK_UNAVAILABLE", grpccodes.Unavailable}
var INSUFFICIENT_FUNDS = Code[InsufficientFundsMetadata]{
	6,
	"INSUFFICIENT_FUNDS",
	grpccodes.FailedPrecondition,
}
var RELAY_REJECTED = Code[RelayRejectedMetadata]{7, "RELAY_REJECTED", grpccodes.Aborted}
var NETWORK_TIMEOUT = Code[TimeoutMetadata]{8, "NETWORK_TIMEOUT", grpccodes.DeadlineExceeded}
var INVALID_TRANSFER_STATE = Code[TransferStateMetadata]{
	9,
	"INVALID_TRANSFER_STATE",
	grpccodes.FailedPrecondition,
}
var UNKNOWN_ASSET = Code[AssetMetadata]{10, "UNKNOWN_ASSET", grpccodes.NotFound}
var UNKNOWN_TRANSFER = Code[TransferMetadata]{11, "UNKNOWN_TRANSFER", grpccodes.NotFound}
var WALLET_NOT_INITIALIZED = Code[any]{12, "WALLET_NOT_INITIALIZED", grpccodes.FailedPrecondition}
var WALLET_LOCKED = Code[any]{13, "WALLET_LOCKED", grpccodes.FailedPrecondition}
var INVALID_INVOICE = Code[InvoiceMetadata]{14, "INVALID_INVOICE", grpccodes.InvalidArgument}
var RECOVERY_PENDING = Code[any]{15, "RECOVERY_PENDING", grpccodes.Unavailable}
