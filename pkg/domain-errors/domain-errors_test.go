package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives the tenant lifecycle
// relies on: codes survive wrapping, errors.Is matches by code, and
// HasCode resolves through chains. Handlers map these codes to HTTP
// statuses, so a broken invariant here surfaces as a wrong status code.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorString() {
	s.Run("message wins when present", func() {
		err := &Error{Code: CodeNotFound, Message: "tenant acme1 not registered"}
		s.Equal("tenant acme1 not registered", err.Error())
	})

	s.Run("falls back to the code string", func() {
		s.Equal("partial_teardown", (&Error{Code: CodePartialTeardown}).Error())
		s.Equal("unavailable", (&Error{Code: CodeUnavailable}).Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	s.Run("exposes the cause", func() {
		cause := errors.New("drop database failed")
		err := &Error{Code: CodePartialTeardown, Message: "teardown incomplete", Err: cause}
		s.Equal(cause, errors.Unwrap(err))
	})

	s.Run("nil when there is no cause", func() {
		err := &Error{Code: CodeValidation, Message: "tenant id too long"}
		s.Nil(errors.Unwrap(err))
	})
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	s.Run("same code, different messages", func() {
		a := &Error{Code: CodeUnavailable, Message: "pool construction failed"}
		b := &Error{Code: CodeUnavailable, Message: "health probe timed out"}
		s.True(errors.Is(a, b))
	})

	s.Run("different codes do not match", func() {
		a := &Error{Code: CodeUnavailable}
		b := &Error{Code: CodePartialTeardown}
		s.False(errors.Is(a, b))
	})

	s.Run("plain errors never match a domain error", func() {
		a := &Error{Code: CodeNotFound}
		s.False(errors.Is(a, errors.New("not_found")))
	})

	s.Run("matches through a wrapping chain", func() {
		inner := &Error{Code: CodePartialTeardown, Message: "2 steps failed"}
		outer := fmt.Errorf("delete tenant: %w", inner)
		s.True(errors.Is(outer, &Error{Code: CodePartialTeardown}))
	})
}

func (s *DomainErrorsSuite) TestNew() {
	err := New(CodeValidation, "tenant id must match ^[a-z][a-z0-9]*$")
	s.Require().NotNil(err)

	var domainErr *Error
	s.Require().True(errors.As(err, &domainErr))
	s.Equal(CodeValidation, domainErr.Code)
	s.Equal("tenant id must match ^[a-z][a-z0-9]*$", domainErr.Message)
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("keeps the inner domain code", func() {
		// A partial teardown must stay a partial teardown no matter how
		// many layers re-wrap it on the way to the handler.
		inner := New(CodePartialTeardown, "drop role failed")
		wrapped := Wrap(inner, CodeInternal, "delete tenant acme1")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodePartialTeardown, domainErr.Code)
		s.Equal("delete tenant acme1", domainErr.Message)
	})

	s.Run("applies the given code to plain errors", func() {
		cause := errors.New("dial tcp: connection refused")
		wrapped := Wrap(cause, CodeUnavailable, "tenant database unreachable")

		var domainErr *Error
		s.Require().True(errors.As(wrapped, &domainErr))
		s.Equal(CodeUnavailable, domainErr.Code)
	})

	s.Run("cause stays reachable", func() {
		cause := errors.New("context deadline exceeded")
		wrapped := Wrap(cause, CodeTimeout, "provisioning timed out")
		s.True(errors.Is(wrapped, cause))
	})
}

func (s *DomainErrorsSuite) TestHasCode() {
	s.Run("direct match", func() {
		s.True(HasCode(New(CodeUnavailable, "no pool"), CodeUnavailable))
	})

	s.Run("code mismatch", func() {
		s.False(HasCode(New(CodeUnavailable, "no pool"), CodePartialTeardown))
	})

	s.Run("plain error", func() {
		s.False(HasCode(errors.New("boom"), CodeUnavailable))
	})

	s.Run("resolves through the chain", func() {
		inner := New(CodePartialTeardown, "terminate sessions failed")
		outer := fmt.Errorf("teardown: %w", Wrap(inner, CodeInternal, "delete"))
		s.True(HasCode(outer, CodePartialTeardown))
	})

	s.Run("nil error has no code", func() {
		s.False(HasCode(nil, CodeNotFound))
	})
}
