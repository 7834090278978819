package guild

import (
	"errors"
	"fmt"
)

// Kind classifies a guild error. Every kind maps to a user-facing message key.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotInGuild
	KindAlreadyInGuild
	KindNoPermission
	KindNameTaken
	KindPrefixTaken
	KindInvalidName
	KindInvalidPrefix
	KindInvalidAmount
	KindTargetNotFound
	KindTargetNotInGuild
	KindCannotTargetSelf
	KindCannotTargetSenior
	KindBankInsufficient
	KindBankCapExceeded
	KindEconomyUnavailable
	KindEconomyRejected
	KindNoHome
	KindAtMaxTier
	KindGuildFull
	KindGuildNotFound
	KindNotInvited
	KindAlreadyInvited
	KindMasterMustTransfer
	KindIOError
	KindCancelledByObserver
	KindConfirmationMissing
	KindConfirmationExpired
)

var kindKeys = map[Kind]string{
	KindUnknown:             "error.internal",
	KindNotInGuild:          "error.not-in-guild",
	KindAlreadyInGuild:      "error.already-in-guild",
	KindNoPermission:        "error.no-permission",
	KindNameTaken:           "error.name-taken",
	KindPrefixTaken:         "error.prefix-taken",
	KindInvalidName:         "error.invalid-name",
	KindInvalidPrefix:       "error.invalid-prefix",
	KindInvalidAmount:       "error.invalid-amount",
	KindTargetNotFound:      "error.target-not-found",
	KindTargetNotInGuild:    "error.target-not-in-guild",
	KindCannotTargetSelf:    "error.cannot-target-self",
	KindCannotTargetSenior:  "error.cannot-target-senior",
	KindBankInsufficient:    "error.bank-insufficient",
	KindBankCapExceeded:     "error.bank-cap-exceeded",
	KindEconomyUnavailable:  "error.economy-unavailable",
	KindEconomyRejected:     "error.economy-rejected",
	KindNoHome:              "error.no-home",
	KindAtMaxTier:           "error.at-max-tier",
	KindGuildFull:           "error.guild-full",
	KindGuildNotFound:       "error.guild-not-found",
	KindNotInvited:          "error.not-invited",
	KindAlreadyInvited:      "error.already-invited",
	KindMasterMustTransfer:  "error.master-must-transfer",
	KindIOError:             "error.io",
	KindCancelledByObserver: "error.cancelled-by-observer",
	KindConfirmationMissing: "error.confirmation-missing",
	KindConfirmationExpired: "error.confirmation-expired",
}

// MessageKey returns the language key used to render the kind to a player.
func (k Kind) MessageKey() string {
	if key, ok := kindKeys[k]; ok {
		return key
	}
	return kindKeys[KindUnknown]
}

func (k Kind) String() string {
	return k.MessageKey()[len("error."):]
}

// Error is a typed guild failure. Two errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "guild: " + e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so sentinels can be compared with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotInGuild          = &Error{Kind: KindNotInGuild}
	ErrAlreadyInGuild      = &Error{Kind: KindAlreadyInGuild}
	ErrNoPermission        = &Error{Kind: KindNoPermission}
	ErrNameTaken           = &Error{Kind: KindNameTaken}
	ErrPrefixTaken         = &Error{Kind: KindPrefixTaken}
	ErrInvalidName         = &Error{Kind: KindInvalidName}
	ErrInvalidPrefix       = &Error{Kind: KindInvalidPrefix}
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount}
	ErrTargetNotFound      = &Error{Kind: KindTargetNotFound}
	ErrTargetNotInGuild    = &Error{Kind: KindTargetNotInGuild}
	ErrCannotTargetSelf    = &Error{Kind: KindCannotTargetSelf}
	ErrCannotTargetSenior  = &Error{Kind: KindCannotTargetSenior}
	ErrBankInsufficient    = &Error{Kind: KindBankInsufficient}
	ErrBankCapExceeded     = &Error{Kind: KindBankCapExceeded}
	ErrEconomyUnavailable  = &Error{Kind: KindEconomyUnavailable}
	ErrEconomyRejected     = &Error{Kind: KindEconomyRejected}
	ErrNoHome              = &Error{Kind: KindNoHome}
	ErrAtMaxTier           = &Error{Kind: KindAtMaxTier}
	ErrGuildFull           = &Error{Kind: KindGuildFull}
	ErrGuildNotFound       = &Error{Kind: KindGuildNotFound}
	ErrNotInvited          = &Error{Kind: KindNotInvited}
	ErrAlreadyInvited      = &Error{Kind: KindAlreadyInvited}
	ErrMasterMustTransfer  = &Error{Kind: KindMasterMustTransfer}
	ErrIO                  = &Error{Kind: KindIOError}
	ErrCancelledByObserver = &Error{Kind: KindCancelledByObserver}
	ErrConfirmationMissing = &Error{Kind: KindConfirmationMissing}
	ErrConfirmationExpired = &Error{Kind: KindConfirmationExpired}
)

// Errorf builds an Error of the given kind with a formatted detail.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IOError wraps a persistence failure.
func IOError(err error) *Error {
	return &Error{Kind: KindIOError, Err: err}
}

// KindOf extracts the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
