package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeriod_Overlaps_Inclusive(t *testing.T) {
	approved := Period{Start: MustParse("2025-06-01"), End: MustParse("2025-06-05")}

	assert.True(t, approved.Overlaps(Period{Start: MustParse("2025-06-03"), End: MustParse("2025-06-07")}))
	assert.True(t, approved.Overlaps(Period{Start: MustParse("2025-06-05"), End: MustParse("2025-06-05")}), "shared end day counts")
	assert.False(t, approved.Overlaps(Period{Start: MustParse("2025-06-06"), End: MustParse("2025-06-10")}))
}

func TestPeriod_Validate(t *testing.T) {
	assert.NoError(t, Period{Start: MustParse("2025-01-01"), End: MustParse("2025-01-01")}.Validate())
	assert.ErrorIs(t, Period{Start: MustParse("2025-01-02"), End: MustParse("2025-01-01")}.Validate(), ErrInvalidPeriod)
	assert.ErrorIs(t, Period{End: MustParse("2025-01-01")}.Validate(), ErrInvalidPeriod)
}

func TestPeriod_LenAndYears(t *testing.T) {
	p := Period{Start: MustParse("2024-12-30"), End: MustParse("2025-01-02")}

	assert.Equal(t, 4, p.Len())
	assert.Equal(t, []int{2024, 2025}, p.Years())
	assert.Len(t, p.Days(), 4)
}

func TestNextAnniversary_AdvancesUntilFuture(t *testing.T) {
	hire := MustParse("2020-03-15")

	assert.Equal(t, "2025-03-15", NextAnniversary(hire, MustParse("2025-01-10")).String())
	assert.Equal(t, "2026-03-15", NextAnniversary(hire, MustParse("2025-03-15")).String(), "anniversary day itself is not in the future")
	assert.Equal(t, "2021-03-15", NextAnniversary(hire, MustParse("2019-01-01")).String())
}

func TestAnniversaryPeriod(t *testing.T) {
	hire := MustParse("2020-03-15")

	p := AnniversaryPeriod(hire, MustParse("2025-02-01"))
	assert.Equal(t, "2024-03-15", p.Start.String())
	assert.Equal(t, "2025-03-14", p.End.String())

	p = AnniversaryPeriod(hire, MustParse("2025-03-15"))
	assert.Equal(t, "2025-03-15", p.Start.String())
}

func TestWholeMonthsBetween(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"2025-01-15", "2025-01-31", 0},
		{"2025-01-15", "2025-02-14", 0},
		{"2025-01-15", "2025-02-15", 1},
		{"2024-11-01", "2025-06-30", 7},
		{"2025-06-01", "2025-01-01", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WholeMonthsBetween(MustParse(tt.from), MustParse(tt.to)), "%s -> %s", tt.from, tt.to)
	}
}

func TestTimePoint_JSON(t *testing.T) {
	tp := MustParse("2025-06-01")
	data, err := tp.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"2025-06-01"`, string(data))

	var back TimePoint
	assert.NoError(t, back.UnmarshalJSON(data))
	assert.True(t, back.Equal(tp))

	var zero TimePoint
	assert.NoError(t, zero.UnmarshalJSON([]byte("null")))
	assert.True(t, zero.IsZero())
}
