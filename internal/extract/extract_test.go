package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		page      string
		wantFound bool
		wantUsage float64
		wantPlan  float64
		wantStart string
		wantEnd   string
	}{
		{
			name: "used of plan",
			page: `<html><body>
				<div class="summary"><p>Data</p><span>3.50 GB used of 10 GB</span></div>
				<p>Billing cycle: Jan 5 - Feb 4</p>
			</body></html>`,
			wantFound: true,
			wantUsage: 3.50,
			wantPlan:  10,
			wantStart: "Jan 5",
			wantEnd:   "Feb 4",
		},
		{
			name: "plan phrase beats earlier bare figure",
			page: `<html><body>
				<p>Bonus: 3.50 GB</p>
				<p>You have 3.50 GB used of 10 GB</p>
			</body></html>`,
			wantFound: true,
			wantUsage: 3.50,
			wantPlan:  10,
		},
		{
			name:      "slash form",
			page:      `<div>Data: 1.2 GB / 5 GB</div>`,
			wantFound: true,
			wantUsage: 1.2,
			wantPlan:  5,
		},
		{
			name:      "bare figure only",
			page:      `<section><h2>Data usage</h2><strong>7.25 GB</strong></section>`,
			wantFound: true,
			wantUsage: 7.25,
		},
		{
			name:      "class hint fallback",
			page:      `<div class="usage-meter"><b>4.4</b><i>gb</i></div>`,
			wantFound: true,
			wantUsage: 4.4,
		},
		{
			name:      "data attribute fallback",
			page:      `<div data-used="1"><span>0.75</span> <abbr>GB</abbr></div>`,
			wantFound: true,
			wantUsage: 0.75,
		},
		{
			name: "iso cycle with en dash",
			page: `<div><span>2.0 GB used of 20 GB</span>
				<p>Current billing period 2025-01-05 – 2025-02-04</p></div>`,
			wantFound: true,
			wantUsage: 2,
			wantPlan:  20,
			wantStart: "2025-01-05",
			wantEnd:   "2025-02-04",
		},
		{
			name: "cycle with to",
			page: `<div><p>6 GB of 50 GB</p>
				<p>Cycle: Mar 1 to Mar 31</p></div>`,
			wantFound: true,
			wantUsage: 6,
			wantPlan:  50,
			wantStart: "Mar 1",
			wantEnd:   "Mar 31",
		},
		{
			name:      "script text is ignored",
			page:      `<html><head><script>var usage = "9 GB";</script></head><body><p>Welcome</p></body></html>`,
			wantFound: false,
		},
		{
			name:      "nothing on page",
			page:      `<html><body><h1>Sign in</h1><input id="msisdnInput"></body></html>`,
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, found, err := Extract(tt.page)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v (snap %+v)", found, tt.wantFound, snap)
			}
			if !found {
				return
			}
			if snap.UsageGB != tt.wantUsage {
				t.Errorf("UsageGB = %v, want %v", snap.UsageGB, tt.wantUsage)
			}
			if snap.PlanGB != tt.wantPlan {
				t.Errorf("PlanGB = %v, want %v", snap.PlanGB, tt.wantPlan)
			}
			if snap.CycleStart != tt.wantStart || snap.CycleEnd != tt.wantEnd {
				t.Errorf("cycle = %q..%q, want %q..%q", snap.CycleStart, snap.CycleEnd, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestCycle_NoRange(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<p>Your billing cycle resets soon</p>`))
	if err != nil {
		t.Fatal(err)
	}
	start, end := Cycle(doc)
	if start != "" || end != "" {
		t.Fatalf("Cycle() = %q, %q, want empty", start, end)
	}
}
