package records

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "already normalized", input: "2025-10-15", want: "2025-10-15"},
		{name: "japanese format", input: "2025年10月15日", want: "2025-10-15"},
		{name: "japanese single digit", input: "2025年1月5日", want: "2025-01-05"},
		{name: "slash format", input: "2025/10/15", want: "2025-10-15"},
		{name: "slash single digit", input: "2025/3/7", want: "2025-03-07"},
		{name: "embedded in card text", input: "次回: 2025年10月15日 14:00", want: "2025-10-15"},
		{name: "loose digit groups", input: "2025.10.15", want: "2025-10-15"},
		{name: "surrounding whitespace", input: "  2025-10-15  ", want: "2025-10-15"},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "no digits", input: "来週の火曜日", wantErr: true},
		{name: "too few groups", input: "10/15", wantErr: true},
		{name: "implausible month", input: "2025/13/01", wantErr: true},
		{name: "implausible day", input: "2025/01/40", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "minutes suffix", input: "60分", want: 60},
		{name: "minutes in text", input: "レッスン 90分 コース", want: 90},
		{name: "hours", input: "1時間", want: 60},
		{name: "fractional hours", input: "1.5時間", want: 90},
		{name: "bare number", input: "45", want: 45},
		{name: "hours and minutes combine", input: "1時間30分", want: 90},
		{name: "empty", input: "", wantErr: true},
		{name: "no numbers", input: "未定", wantErr: true},
		{name: "trailing junk on bare number", input: "45x", wantErr: true},
		{name: "implausible hours", input: "100時間", wantErr: true},
		{name: "implausible minutes", input: "100000分", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUnitPrice(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "plain", input: "2300", want: 2300},
		{name: "yen sign and comma", input: "¥2,300", want: 2300},
		{name: "full width label", input: "単価: 3,000円", want: 3000},
		{name: "empty defaults", input: "", want: DefaultUnitPrice},
		{name: "no digits defaults", input: "未設定", want: DefaultUnitPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseUnitPrice(tt.input))
		})
	}
}

// FuzzParsers feeds arbitrary text through every parser. None of them may
// panic, and any date accepted by ParseDate must come out normalized.
func FuzzParsers(f *testing.F) {
	f.Add([]byte("2025年10月15日"))
	f.Add([]byte("2025/3/7"))
	f.Add([]byte("1.5時間"))
	f.Add([]byte("¥2,300"))

	f.Fuzz(func(t *testing.T, data []byte) {
		fuzzConsumer := fuzz.NewConsumer(data)
		text, err := fuzzConsumer.GetString()
		if err != nil {
			return
		}

		if date, err := ParseDate(text); err == nil {
			assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, date)
		}
		if d, err := ParseDuration(text); err == nil {
			assert.GreaterOrEqual(t, d, 0)
		}
		ParseUnitPrice(text)
	})
}
