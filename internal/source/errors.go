package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sawpanic/moverun/internal/domain/market"
)

// Kind classifies an adapter-level failure. All kinds are recoverable by
// falling through to the next adapter in a chain.
type Kind string

const (
	KindNotFound  Kind = "not_found"
	KindBlocked   Kind = "blocked"
	KindTimeout   Kind = "timeout"
	KindMalformed Kind = "malformed"
)

// Sentinels for errors.Is matching against a *FetchError of the same kind
var (
	ErrNotFound  = errors.New("no valid value found")
	ErrBlocked   = errors.New("request blocked")
	ErrTimeout   = errors.New("request timed out")
	ErrMalformed = errors.New("malformed response")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindBlocked:
		return ErrBlocked
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrMalformed
	}
}

// FetchError is returned by every adapter and by the network policy
type FetchError struct {
	Source string
	Symbol market.Symbol
	Kind   Kind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	if e.Symbol != "" {
		fmt.Fprintf(&b, " %s", e.Symbol)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrBlocked) match on kind
func (e *FetchError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Errorf builds a FetchError with a formatted cause
func Errorf(kind Kind, format string, args ...interface{}) *FetchError {
	return &FetchError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf maps any error to the adapter taxonomy. Transport errors that are
// not timeouts count as Blocked: the host refused or dropped us.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindBlocked
}

// Annotate stamps err with the adapter id and symbol, converting foreign
// errors into a *FetchError
func Annotate(err error, sourceID string, symbol market.Symbol) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		out := *fe
		out.Source = sourceID
		if symbol != "" {
			out.Symbol = symbol
		}
		return &out
	}
	return &FetchError{Source: sourceID, Symbol: symbol, Kind: KindOf(err), Err: err}
}

// KindForStatus maps a non-success HTTP status. ok is false for 2xx and 3xx.
func KindForStatus(status int) (kind Kind, ok bool) {
	switch {
	case status < 400:
		return "", false
	case status == http.StatusNotFound, status == http.StatusGone:
		return KindNotFound, true
	case status == http.StatusServiceUnavailable:
		return KindBlocked, true
	case status < 500:
		return KindBlocked, true
	default:
		return KindMalformed, true
	}
}

var blockMarkers = []string{
	"are you a robot",
	"unusual traffic from your computer",
	"px-captcha",
	"g-recaptcha",
	"cf-chl-",
	"captcha-delivery",
	"consent.yahoo.com",
}

// LooksBlocked reports whether a 200 body is really a CAPTCHA or consent interstitial
func LooksBlocked(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, m := range blockMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
