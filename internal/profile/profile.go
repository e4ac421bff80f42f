// Package profile tracks per-session client attributes and labeling history.
//
// Profiles live in a sharded map keyed by session id. Each profile carries
// its own mutex, so updates to different sessions never contend and updates
// to the same session are serialized.
package profile

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// InitialQuality is the quality score a new session starts with.
const InitialQuality = 0.5

// defaultInterest is the neutral interest assumed for an unseen category.
const defaultInterest = 0.5

// Signal keys understood in Attributes.Signals.
const (
	SignalTopics           = "topics"
	SignalDetectedLanguage = "detected_language"
	SignalTimeOnPage       = "time_on_page"
	SignalInteractionDepth = "interaction_depth"
)

// Attributes are the client environment attributes reported with a task
// request. Empty fields leave the stored value untouched.
type Attributes struct {
	Language           string         `json:"language,omitempty"`
	PreferredLanguages []string       `json:"preferred_languages,omitempty"`
	Device             string         `json:"device,omitempty"`
	Platform           string         `json:"platform,omitempty"`
	Timezone           string         `json:"timezone,omitempty"`
	RecentSites        []string       `json:"recent_sites,omitempty"`
	SiteCategory       string         `json:"current_site_category,omitempty"`
	Topic              string         `json:"current_page_topic,omitempty"`
	TimeOnPage         int            `json:"time_on_page,omitempty"`
	InteractionDepth   *float64       `json:"interaction_depth,omitempty"`
	Signals            map[string]any `json:"signals,omitempty"`
}

// Profile is the tracked state of one session.
type Profile struct {
	SessionID          string              `json:"session_id"`
	Language           string              `json:"language,omitempty"`
	PreferredLanguages []string            `json:"preferred_languages,omitempty"`
	Device             string              `json:"device,omitempty"`
	Platform           string              `json:"platform,omitempty"`
	Timezone           string              `json:"timezone,omitempty"`
	RecentSites        []string            `json:"recent_sites,omitempty"`
	Topic              string              `json:"current_topic,omitempty"`
	Signals            map[string]any      `json:"signals,omitempty"`
	Interests          map[string]float64  `json:"interests,omitempty"`
	Served             map[string]struct{} `json:"-"`
	QualityScore       float64             `json:"quality_score"`
	Completed          int                 `json:"completed"`
	Rejected           int                 `json:"rejected"`
	CreatedAt          time.Time           `json:"created_at"`
	LastSeen           time.Time           `json:"last_seen"`
}

func newProfile(sessionID string, now time.Time) *Profile {
	return &Profile{
		SessionID:    sessionID,
		Signals:      make(map[string]any),
		Interests:    make(map[string]float64),
		Served:       make(map[string]struct{}),
		QualityScore: InitialQuality,
		CreatedAt:    now,
		LastSeen:     now,
	}
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	c.PreferredLanguages = slices.Clone(p.PreferredLanguages)
	c.RecentSites = slices.Clone(p.RecentSites)
	c.Signals = maps.Clone(p.Signals)
	c.Interests = maps.Clone(p.Interests)
	c.Served = maps.Clone(p.Served)
	return &c
}

// HasServed reports whether taskID was already handed to this session.
func (p *Profile) HasServed(taskID string) bool {
	_, ok := p.Served[taskID]
	return ok
}

// Languages returns the primary language followed by the preferred
// languages, without duplicates or empty entries.
func (p *Profile) Languages() []string {
	out := make([]string, 0, 1+len(p.PreferredLanguages))
	for _, l := range append([]string{p.Language}, p.PreferredLanguages...) {
		if l != "" && !slices.ContainsFunc(out, func(s string) bool { return strings.EqualFold(s, l) }) {
			out = append(out, l)
		}
	}
	return out
}

// TopicTerms returns the lower-cased terms the session has shown interest
// in: recent site categories, the current page topic and any "topics"
// signal. Terms may be glob patterns such as "sports/*".
func (p *Profile) TopicTerms() []string {
	var terms []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !slices.Contains(terms, s) {
			terms = append(terms, s)
		}
	}
	for _, s := range p.RecentSites {
		add(s)
	}
	add(p.Topic)
	if v, ok := p.Signals[SignalTopics]; ok {
		for _, s := range cast.ToStringSlice(v) {
			add(s)
		}
	}
	return terms
}

// Interest returns the interest EMA for category, or the neutral default
// when the category was never seen.
func (p *Profile) Interest(category string) float64 {
	if v, ok := p.Interests[strings.ToLower(category)]; ok {
		return v
	}
	return defaultInterest
}

// merge folds attrs into p. Scalars are last-write-wins per non-empty
// field and the signals map is merged per key.
func (p *Profile) merge(attrs Attributes, interestAlpha float64) {
	if attrs.Language != "" {
		p.Language = attrs.Language
	}
	if len(attrs.PreferredLanguages) > 0 {
		p.PreferredLanguages = slices.Clone(attrs.PreferredLanguages)
	}
	if attrs.Device != "" {
		p.Device = attrs.Device
	}
	if attrs.Platform != "" {
		p.Platform = attrs.Platform
	}
	if attrs.Timezone != "" {
		p.Timezone = attrs.Timezone
	}
	if len(attrs.RecentSites) > 0 {
		p.RecentSites = slices.Clone(attrs.RecentSites)
	}
	if attrs.Topic != "" {
		p.Topic = attrs.Topic
	}
	for k, v := range attrs.Signals {
		p.Signals[k] = v
	}

	if lang := cast.ToString(attrs.Signals[SignalDetectedLanguage]); lang != "" {
		if !slices.ContainsFunc(p.Languages(), func(s string) bool { return strings.EqualFold(s, lang) }) {
			p.PreferredLanguages = append(p.PreferredLanguages, lang)
		}
	}

	if attrs.SiteCategory != "" {
		category := strings.ToLower(attrs.SiteCategory)
		score := interestScore(attrs)
		p.Interests[category] = (1-interestAlpha)*p.Interest(category) + interestAlpha*score
	}
}

// interestScore rates how engaged the session was with the current page.
// Longer visits score higher and the score is scaled by scroll depth.
func interestScore(attrs Attributes) float64 {
	seconds := attrs.TimeOnPage
	if seconds == 0 {
		seconds = cast.ToInt(attrs.Signals[SignalTimeOnPage])
	}

	score := 0.7
	switch {
	case seconds > 120:
		score = 0.9
	case seconds > 60:
		score = 0.8
	case seconds > 0 && seconds < 15:
		score = 0.5
	}

	depth, ok := 0.0, false
	if attrs.InteractionDepth != nil {
		depth, ok = *attrs.InteractionDepth, true
	} else if v, present := attrs.Signals[SignalInteractionDepth]; present {
		if d, err := cast.ToFloat64E(v); err == nil {
			depth, ok = d, true
		}
	}
	if ok {
		score *= 0.5 + clamp01(depth)*0.5
	}
	return score
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
