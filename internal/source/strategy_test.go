package source

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quotePage = `<html><head><script>
var data = {"quote":{"symbol":"AAPL","regularMarketPrice":{"raw":150.25,"fmt":"150.25"}}};
</script></head><body>
<fin-streamer data-symbol="MSFT" data-field="regularMarketPrice">410.10</fin-streamer>
<fin-streamer data-symbol="AAPL" data-field="regularMarketPrice">150.30</fin-streamer>
<span class="big">$0.00</span>
</body></html>`

func TestCascade_FirstValidStrategyWins(t *testing.T) {
	tests := []struct {
		name       string
		strategies []Strategy
		wantPrice  string
		wantName   string
		wantKind   Kind
	}{
		{
			name: "structured data",
			strategies: []Strategy{
				Structured("json", `var data = (\{.*?\});`, "quote", "regularMarketPrice"),
				CSS("streamer", `fin-streamer[data-symbol="{{symbol}}"]`, ""),
			},
			wantPrice: "150.25",
			wantName:  "json",
		},
		{
			name: "selector substitutes symbol",
			strategies: []Strategy{
				CSS("streamer", `fin-streamer[data-symbol="{{symbol}}"]`, ""),
			},
			wantPrice: "150.3",
			wantName:  "streamer",
		},
		{
			name: "invalid value falls through",
			strategies: []Strategy{
				CSS("zero", `span.big`, ""),
				Regex("raw", `"regularMarketPrice":\{"raw":([0-9.]+)`),
			},
			wantPrice: "150.25",
			wantName:  "raw",
		},
		{
			name: "nothing valid",
			strategies: []Strategy{
				CSS("zero", `span.big`, ""),
				Regex("missing", `"nope":([0-9.]+)`),
			},
			wantKind: KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, name, err := Cascade(tt.strategies, []byte(quotePage), "AAPL")
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, price.String())
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestCascade_EmptyBodyIsMalformed(t *testing.T) {
	_, _, err := Cascade([]Strategy{Regex("x", `(\d+)`)}, []byte("  \n"), "AAPL")
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice("$1,234.50 USD")
	require.NoError(t, err)
	assert.Equal(t, "1234.5", p.String())

	p, err = ParsePrice("1.5e3")
	require.NoError(t, err)
	assert.Equal(t, "1500", p.String())

	p, err = ParsePrice(" 2.5E-1 ")
	require.NoError(t, err)
	assert.Equal(t, "0.25", p.String())

	_, err = ParsePrice("n/a")
	assert.Error(t, err)
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
		ok     bool
	}{
		{200, "", false},
		{301, "", false},
		{404, KindNotFound, true},
		{410, KindNotFound, true},
		{403, KindBlocked, true},
		{429, KindBlocked, true},
		{503, KindBlocked, true},
		{500, KindMalformed, true},
		{502, KindMalformed, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			kind, ok := KindForStatus(tt.status)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestFetchError_Matching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &FetchError{Source: "yahoo", Symbol: "AAPL", Kind: KindBlocked, Status: 429})

	assert.True(t, errors.Is(err, ErrBlocked))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, KindBlocked, KindOf(err))
	assert.Contains(t, err.Error(), "yahoo AAPL: blocked (HTTP 429)")

	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))

	annotated := Annotate(context.DeadlineExceeded, "google", "TSLA")
	var fe *FetchError
	require.True(t, errors.As(annotated, &fe))
	assert.Equal(t, "google", fe.Source)
	assert.Equal(t, KindTimeout, fe.Kind)
}

func TestLooksBlocked(t *testing.T) {
	assert.True(t, LooksBlocked([]byte(`<div id="px-captcha"></div>`)))
	assert.True(t, LooksBlocked([]byte(`Our systems have detected Unusual Traffic From Your Computer`)))
	assert.False(t, LooksBlocked([]byte(quotePage)))
}
