package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// Justification: classification codes drive retry behavior and the remedy
// shown to the user, so invariants like "wrapping preserves the original
// code" and "unclassified errors report other" must hold at every layer.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNoTenant, Message: "user has no tenant association"}
		s.Equal("user has no tenant association", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeNoTenant}
		s.Equal("no_tenant", err.Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatching() {
	s.Run("matches by code only", func() {
		err1 := &Error{Code: CodeTransient, Message: "query timed out"}
		err2 := &Error{Code: CodeTransient, Message: "connection refused"}
		s.True(err1.Is(err2))
	})

	s.Run("does not match different codes", func() {
		err1 := &Error{Code: CodeTransient}
		err2 := &Error{Code: CodeNotAuthorized}
		s.False(err1.Is(err2))
	})

	s.Run("works through errors.Is with fmt wrapping", func() {
		err := fmt.Errorf("activate dashboard: %w", New(CodeFeatureDisabled, "KPI disabled"))
		s.True(errors.Is(err, &Error{Code: CodeFeatureDisabled}))
	})
}

func (s *DomainErrorsSuite) TestWrapPreservesClassification() {
	s.Run("keeps the inner code across layers", func() {
		inner := New(CodeNotAuthorized, "role does not grant access")
		outer := Wrap(inner, CodeInternal, "resolve scope")
		s.Equal(CodeNotAuthorized, CodeOf(outer))
	})

	s.Run("classifies plain errors with the given code", func() {
		outer := Wrap(errors.New("dial tcp: connection refused"), CodeTransient, "query aggregates")
		s.Equal(CodeTransient, CodeOf(outer))
	})
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Run("unclassified errors report other", func() {
		s.Equal(CodeOther, CodeOf(errors.New("something odd")))
	})

	s.Run("nil-safe via errors.As semantics", func() {
		s.Equal(CodeOther, CodeOf(fmt.Errorf("opaque")))
	})
}

func (s *DomainErrorsSuite) TestHasCode() {
	err := New(CodeConflict, "association already exists")
	s.True(HasCode(err, CodeConflict))
	s.False(HasCode(err, CodeNotFound))
	s.False(HasCode(errors.New("plain"), CodeConflict))
}

func (s *DomainErrorsSuite) TestRetryable() {
	s.True(CodeTransient.Retryable())
	s.True(CodeTimeout.Retryable())
	s.False(CodeNoTenant.Retryable())
	s.False(CodeNotAuthorized.Retryable())
	s.False(CodeFeatureDisabled.Retryable())
	s.False(CodeOther.Retryable())
}
