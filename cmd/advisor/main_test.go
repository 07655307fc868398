package main

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"peakload/internal/types"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, o options)
	}{
		{
			name: "input file",
			args: []string{"--input=history.xlsx", "--out=advisory.xlsx"},
			check: func(t *testing.T, o options) {
				if o.Input != "history.xlsx" || o.Out != "advisory.xlsx" {
					t.Errorf("unexpected options: %+v", o)
				}
				if o.FromDB || o.Email {
					t.Errorf("unexpected flags set: %+v", o)
				}
			},
		},
		{
			name: "database range",
			args: []string{"--from-db", "--from=2024-01-01", "--to=2024/03/31"},
			check: func(t *testing.T, o options) {
				if !o.FromDB {
					t.Error("FromDB should be set")
				}
				if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !o.From.Equal(want) {
					t.Errorf("From = %v, want %v", o.From, want)
				}
				if want := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC); !o.To.Equal(want) {
					t.Errorf("To = %v, want %v", o.To, want)
				}
			},
		},
		{
			name: "recipients are trimmed",
			args: []string{"--input=h.csv", "--email", "--recipients= a@example.com, ,b@example.com "},
			check: func(t *testing.T, o options) {
				if len(o.Recipients) != 2 || o.Recipients[0] != "a@example.com" || o.Recipients[1] != "b@example.com" {
					t.Errorf("Recipients = %q", o.Recipients)
				}
			},
		},
		{name: "no source", args: nil, wantErr: "one of --input or --from-db"},
		{name: "both sources", args: []string{"--input=h.csv", "--from-db"}, wantErr: "mutually exclusive"},
		{name: "range without db", args: []string{"--input=h.csv", "--from=2024-01-01"}, wantErr: "require --from-db"},
		{name: "bad date", args: []string{"--from-db", "--from=yesterday"}, wantErr: "--from"},
		{name: "inverted range", args: []string{"--from-db", "--from=2024-02-01", "--to=2024-01-01"}, wantErr: "before --from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, o)
		})
	}
}

func TestParseFlagsHelp(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &stderr)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(stderr.String(), "Usage: advisor") {
		t.Errorf("usage not printed: %q", stderr.String())
	}
}

func TestPrintAdvisory(t *testing.T) {
	day := time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC)
	result := &types.AdvisoryResult{
		RunID:         "run-1",
		CapacityLimit: 2160,
		Records: []types.AdvisoryRecord{
			{
				Date:                      day,
				PredictedVolume:           3000,
				PeakLoad:                  1000,
				CapacityLimit:             2160,
				RecommendedShippingWindow: types.WindowNormal,
			},
			{
				Date:                      day.AddDate(0, 0, 1),
				PredictedVolume:           9000,
				PeakLoad:                  3000,
				CapacityLimit:             2160,
				StrategyTriggered:         true,
				RecommendedExtraWorkers:   4,
				RecommendedExtraHours:     0.78,
				BatchSplitRecommended:     true,
				RecommendedShippingWindow: types.WindowOffPeak,
			},
		},
	}

	var buf bytes.Buffer
	printAdvisory(&buf, result)
	out := buf.String()

	for _, want := range []string{
		"Run run-1",
		"Capacity limit: 2160",
		"Days over capacity: 1 of 2",
		"  ! 2024-01-30: peak load 3000 exceeds capacity 2160",
		"    2024-01-29: peak load 1000 within capacity 2160",
		"2024-01-29：forecast=3000, load=1000, strategy_triggered=no",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
