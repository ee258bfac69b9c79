// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeTranscriptOpenInvalidHandle   Code = "transcript.open.invalid_handle"
	CodeTranscriptAppendInvalidHandle Code = "transcript.append.invalid_handle"
	CodeTranscriptCloseInvalidHandle  Code = "transcript.close.invalid_handle"
	CodeTranscriptAppendStale         Code = "transcript.append.stale"
	CodeTranscriptCloseStale          Code = "transcript.close.stale"

	CodeStreamTurnInvalidInput  Code = "stream.turn.invalid_input"
	CodeStreamProtocolViolation Code = "stream.protocol.violation"
	CodeStreamUpstreamFailure   Code = "stream.upstream.failure"
	CodeStreamTurnAbandoned     Code = "stream.turn.abandoned"
	CodeStreamTurnConflict      Code = "stream.turn.conflict"

	CodeClientRequestFailure        Code = "client.request.failure"
	CodeClientBackendUnreachable    Code = "client.backend.unreachable"
	CodeClientStatusUpstreamFailure Code = "client.status.upstream_failure"
	CodeClientAuthUnauthorized      Code = "client.auth.unauthorized"
	CodeClientResponseInvalid       Code = "client.response.invalid"
	CodeClientCredentialFailure     Code = "client.credential.failure"

	CodeDirectorySessionInvalidInput Code = "directory.session.invalid_input"

	CodeConversationTurnConflict Code = "conversation.turn.conflict"

	CodeStoreSessionGetNotFound    Code = "store.session.get.not_found"
	CodeStoreSessionUpdateConflict Code = "store.session.update.conflict"
	CodeStoreMessageAppendInvalid  Code = "store.message.append.invalid_input"
	CodeStoreDatabaseFailure       Code = "store.database.failure"
	CodeStoreBackendUnsupported    Code = "store.backend.unsupported"
	CodeStoreInvalidInput          Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigAlreadyExists        Code = "config.write.already_exists"

	CodeSecretInvalidInput   Code = "secret.input.invalid_input"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretListFailure    Code = "secret.list.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderAllUnavailable  Code = "provider.registry.upstream_failure"
	CodeProviderKeyInvalid      Code = "provider.key.unauthorized"
	CodeProviderKeyCheckFailed  Code = "provider.key.check.failure"

	CodeAgentTurnInvalidInput Code = "agent.turn.invalid_input"
	CodeAgentTurnFailure      Code = "agent.turn.failure"
	CodeAgentLaneClosed       Code = "agent.lane.closed"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerAuthForbidden    Code = "server.auth.forbidden"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerEntityNotFound   Code = "server.entity.not_found"
	CodeServerConfigInvalid    Code = "server.config.invalid"
	CodeServerStartFailure     Code = "server.start.failure"
	CodeServerShutdownFailure  Code = "server.shutdown.failure"

	CodeCLIRequestFailure Code = "cli.request.failure"
	CodeCLISetupFailure   Code = "cli.setup.failure"
	CodeCLIInputInvalid   Code = "cli.input.invalid"

	CodeTUIRunFailure    Code = "tui.run.failure"
	CodeTUIInputCanceled Code = "tui.input.canceled"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldUserID(value string) Attr {
	return Field("user_id", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldStatus(value int) Attr {
	return Field("status", value)
}

func FieldURL(value string) Attr {
	return Field("url", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden" || r == "denied"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && strings.HasSuffix(string(code), "failure")
}

// IsInvalidHandle reports a transcript handle contract violation: appending to or
// closing a message that is already closed, or opening a second assistant message.
func IsInvalidHandle(err error) bool {
	return reason(CodeOf(err)) == "invalid_handle"
}

// IsStale reports a handle that was invalidated by a transcript reset. The write
// was dropped and the transcript is unchanged.
func IsStale(err error) bool {
	return reason(CodeOf(err)) == "stale"
}

// IsProtocolViolation reports a malformed or incomplete stream that still
// delivered its text.
func IsProtocolViolation(err error) bool {
	return reason(CodeOf(err)) == "violation"
}

// IsTransport reports any failure talking to the backend: dial errors,
// non-success statuses, undecodable bodies and aborted streams.
func IsTransport(err error) bool {
	code := string(CodeOf(err))
	return strings.HasPrefix(code, "client.") || code == string(CodeStreamUpstreamFailure)
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		if r := reason(CodeOf(err)); r == "forbidden" || r == "denied" {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
