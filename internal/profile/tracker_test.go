package profile

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTracker_UpsertCreatesAndMerges(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(WithClock(func() time.Time { return now }))

	p, err := tr.UpsertProfile("s-1", Attributes{
		Language:    "en-US",
		Device:      "mobile",
		RecentSites: []string{"sports"},
		Signals:     map[string]any{"theme": "dark"},
	})
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if p.QualityScore != InitialQuality {
		t.Errorf("QualityScore = %v, want %v", p.QualityScore, InitialQuality)
	}
	if !p.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, now)
	}

	now = now.Add(time.Minute)
	p, err = tr.UpsertProfile("s-1", Attributes{
		Platform: "ios",
		Signals:  map[string]any{"scroll": 3},
	})
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	if p.Language != "en-US" || p.Device != "mobile" {
		t.Errorf("empty fields overwrote stored values: %+v", p)
	}
	if p.Platform != "ios" {
		t.Errorf("Platform = %q, want ios", p.Platform)
	}
	if p.Signals["theme"] != "dark" || p.Signals["scroll"] != 3 {
		t.Errorf("Signals = %v, want merged keys", p.Signals)
	}
	if !p.LastSeen.Equal(now) {
		t.Errorf("LastSeen = %v, want %v", p.LastSeen, now)
	}
	if tr.Count() != 1 {
		t.Errorf("Count() = %d, want 1", tr.Count())
	}
}

func TestTracker_EmptySession(t *testing.T) {
	tr := NewTracker()
	if _, err := tr.UpsertProfile("", Attributes{}); !errors.Is(err, herrors.ErrInvalidInput) {
		t.Errorf("UpsertProfile(\"\") error = %v, want ErrInvalidInput", err)
	}
	if err := tr.MarkServed("", "t-1"); !errors.Is(err, herrors.ErrInvalidInput) {
		t.Errorf("MarkServed(\"\") error = %v, want ErrInvalidInput", err)
	}
}

func TestTracker_GetNotFound(t *testing.T) {
	tr := NewTracker()
	if _, err := tr.Get("missing"); !errors.Is(err, herrors.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestTracker_GetReturnsCopy(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.UpsertProfile("s-1", Attributes{Signals: map[string]any{"k": "v"}})

	p, _ := tr.Get("s-1")
	p.Signals["k"] = "mutated"
	p.Served["t-9"] = struct{}{}

	again, _ := tr.Get("s-1")
	if again.Signals["k"] != "v" {
		t.Error("mutating a returned profile changed tracker state")
	}
	if again.HasServed("t-9") {
		t.Error("served set leaked through copy")
	}
}

func TestTracker_MarkServed(t *testing.T) {
	tr := NewTracker()

	if tr.HasServed("s-1", "t-1") {
		t.Error("HasServed on unknown session should be false")
	}
	for range 3 {
		if err := tr.MarkServed("s-1", "t-1"); err != nil {
			t.Fatalf("MarkServed: %v", err)
		}
	}
	if !tr.HasServed("s-1", "t-1") {
		t.Error("HasServed = false after MarkServed")
	}
	p, _ := tr.Get("s-1")
	if len(p.Served) != 1 {
		t.Errorf("len(Served) = %d, want 1", len(p.Served))
	}
	if tr.Count() != 1 {
		t.Errorf("MarkServed should create the profile, Count() = %d", tr.Count())
	}
}

func TestTracker_RecordOutcome(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []float64
		accepted []bool
		want     float64
	}{
		{"single accept", []float64{1}, []bool{true}, 0.6},
		{"single reject", []float64{0}, []bool{false}, 0.4},
		{"two accepts", []float64{1, 1}, []bool{true, true}, 0.68},
		{"clamped input", []float64{7}, []bool{true}, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			var p *Profile
			for i, q := range tt.outcomes {
				var err error
				p, err = tr.RecordOutcome("s-1", q, tt.accepted[i])
				if err != nil {
					t.Fatalf("RecordOutcome: %v", err)
				}
			}
			if !approx(p.QualityScore, tt.want) {
				t.Errorf("QualityScore = %v, want %v", p.QualityScore, tt.want)
			}
		})
	}
}

func TestTracker_RecordOutcomeCounters(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.RecordOutcome("s-1", 0.9, true)
	_, _ = tr.RecordOutcome("s-1", 0, false)
	p, _ := tr.RecordOutcome("s-1", 0.7, true)
	if p.Completed != 2 || p.Rejected != 1 {
		t.Errorf("Completed/Rejected = %d/%d, want 2/1", p.Completed, p.Rejected)
	}
}

func TestTracker_SetSmoothing(t *testing.T) {
	tr := NewTracker()
	tr.SetSmoothing(Smoothing{Quality: 0.5, Interest: 0.1})

	p, _ := tr.RecordOutcome("s-1", 1, true)
	if !approx(p.QualityScore, 0.75) {
		t.Errorf("QualityScore = %v, want 0.75", p.QualityScore)
	}
	if got := tr.Smoothing().Quality; got != 0.5 {
		t.Errorf("Smoothing().Quality = %v, want 0.5", got)
	}
}

func TestTracker_InterestEMA(t *testing.T) {
	depth := func(v float64) *float64 { return &v }

	tests := []struct {
		name  string
		attrs Attributes
		want  float64
	}{
		{"default visit", Attributes{SiteCategory: "Sports"}, 0.9*0.5 + 0.1*0.7},
		{"long visit", Attributes{SiteCategory: "sports", TimeOnPage: 300}, 0.9*0.5 + 0.1*0.9},
		{"medium visit", Attributes{SiteCategory: "sports", TimeOnPage: 90}, 0.9*0.5 + 0.1*0.8},
		{"bounce", Attributes{SiteCategory: "sports", TimeOnPage: 5}, 0.9*0.5 + 0.1*0.5},
		{"half scrolled", Attributes{SiteCategory: "sports", InteractionDepth: depth(0.5)}, 0.9*0.5 + 0.1*0.7*0.75},
		{
			"signals coerced",
			Attributes{SiteCategory: "sports", Signals: map[string]any{"time_on_page": "200", "interaction_depth": "1"}},
			0.9*0.5 + 0.1*0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			p, err := tr.UpsertProfile("s-1", tt.attrs)
			if err != nil {
				t.Fatalf("UpsertProfile: %v", err)
			}
			if got := p.Interest("sports"); !approx(got, tt.want) {
				t.Errorf("Interest(sports) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfile_Languages(t *testing.T) {
	tr := NewTracker()
	p, _ := tr.UpsertProfile("s-1", Attributes{
		Language:           "en-US",
		PreferredLanguages: []string{"en-us", "fr", ""},
		Signals:            map[string]any{"detected_language": "de"},
	})

	got := p.Languages()
	want := []string{"en-US", "fr", "de"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Languages() = %v, want %v", got, want)
	}
}

func TestProfile_TopicTerms(t *testing.T) {
	tr := NewTracker()
	p, _ := tr.UpsertProfile("s-1", Attributes{
		RecentSites: []string{"Sports", "news"},
		Topic:       "football",
		Signals:     map[string]any{"topics": []any{"sports/*", "NEWS"}},
	})

	got := p.TopicTerms()
	want := []string{"sports", "news", "football", "sports/*"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("TopicTerms() = %v, want %v", got, want)
	}
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tr := NewTracker(WithShards(4))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			session := fmt.Sprintf("s-%d", i%5)
			_, _ = tr.UpsertProfile(session, Attributes{SiteCategory: "vqa"})
			_ = tr.MarkServed(session, fmt.Sprintf("t-%d", i))
			_, _ = tr.RecordOutcome(session, 1, true)
		})
	}
	wg.Wait()

	if tr.Count() != 5 {
		t.Errorf("Count() = %d, want 5", tr.Count())
	}
	total := 0
	for i := range 5 {
		p, err := tr.Get(fmt.Sprintf("s-%d", i))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		total += len(p.Served)
		if p.Completed != 10 {
			t.Errorf("s-%d Completed = %d, want 10", i, p.Completed)
		}
	}
	if total != 50 {
		t.Errorf("served total = %d, want 50", total)
	}
}
