package soft

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFinalizePassesWithSkips(t *testing.T) {
	var c Collector
	c.Pass("title")
	c.Skip("search", "no search input")
	c.Pass("heading")

	assert.NoError(t, c.Finalize())
	assert.Equal(t, 1, c.Count(Skip))
	assert.Len(t, c.Entries(), 3)
}

func TestFinalizeListsOnlyFailures(t *testing.T) {
	var c Collector
	c.Pass("title")
	c.Fail("status", "404")
	c.Skip("search", "no search input")

	err := c.Finalize()
	require.Error(t, err)

	var agg *AggregateFailure
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, []Entry{{Name: "status", Outcome: Fail, Reason: "404"}}, agg.Failures)
	assert.Contains(t, err.Error(), "404")
}

func TestCheckFormatsReason(t *testing.T) {
	var c Collector
	assert.False(t, c.Check("overflow", 80 < 50, "overflow %dpx", 80))
	assert.True(t, c.Check("font", true, "unused"))
	assert.Equal(t, "overflow 80px", c.Entries()[0].Reason)
}

func TestFinalizeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		outcomes := rapid.SliceOf(rapid.SampledFrom([]Outcome{Pass, Fail, Skip})).Draw(t, "outcomes")

		var c Collector
		var wantFails []Entry
		for i, o := range outcomes {
			name := fmt.Sprintf("check%d", i)
			c.Record(name, o, "r")
			if o == Fail {
				wantFails = append(wantFails, Entry{Name: name, Outcome: Fail, Reason: "r"})
			}
		}

		err := c.Finalize()
		if len(wantFails) == 0 {
			if err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
			return
		}
		var agg *AggregateFailure
		if !errors.As(err, &agg) {
			t.Fatalf("expected AggregateFailure, got %v", err)
		}
		if len(agg.Failures) != len(wantFails) {
			t.Fatalf("got %d failures, want %d", len(agg.Failures), len(wantFails))
		}
		for i := range wantFails {
			if agg.Failures[i] != wantFails[i] {
				t.Fatalf("failure %d = %+v, want %+v", i, agg.Failures[i], wantFails[i])
			}
		}
	})
}
