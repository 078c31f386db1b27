package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/util"
)

// Kind tells how an Outcome was reached.
type Kind string

const (
	// KindScored means the backend answered with a usable verdict.
	KindScored Kind = "scored"
	// KindUnavailable means the stage is disabled or the probe failed; the offer passes.
	KindUnavailable Kind = "unavailable"
	// KindTransportError means the call or its decoding failed; the offer passes.
	KindTransportError Kind = "transport_error"
	// KindDeadlineMissing means the offer was rejected before any call.
	KindDeadlineMissing Kind = "deadline_missing"
)

const (
	ReasonDeadlineUnknown    = "deadline_unknown"
	ReasonScoreBelowMin      = "score_below_min"
	ReasonNotInTargetCountry = "not_in_target_country"
)

const (
	probeTTL         = 30 * time.Second
	maxSummaryLength = 220
)

// Outcome is the AI stage verdict for one offer.
type Outcome struct {
	Kind            Kind
	Keep            bool
	Score           *int
	Summary         string
	InTargetCountry *bool
	Reasons         []string
	// Err is the probe or transport failure behind a pass-through outcome.
	Err error
}

// StatusReport is the operator view of the AI backend.
type StatusReport struct {
	Enabled   bool   `json:"enabled"`
	Backend   string `json:"backend,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
	MinScore  int    `json:"min_score"`
}

// Stage re-scores offers kept by the strict stage. It fails open: an
// unavailable or misbehaving backend never drops an offer.
type Stage struct {
	backend  Backend
	enabled  bool
	minScore int
	timeout  time.Duration
	country  string
	now      func() time.Time

	mu       sync.Mutex
	probedAt time.Time
	probeErr error
}

// NewStage returns a stage. A nil backend disables it. country names the
// target country in the prompt.
func NewStage(cfg config.AIConfig, backend Backend, country string) *Stage {
	return &Stage{
		backend:  backend,
		enabled:  cfg.Enabled && backend != nil,
		minScore: cfg.MinScore,
		timeout:  cfg.Timeout,
		country:  country,
		now:      time.Now,
	}
}

func (s *Stage) Enabled() bool {
	return s != nil && s.enabled
}

// available runs the backend probe, reusing a recent result.
func (s *Stage) available(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.probedAt.IsZero() && s.now().Sub(s.probedAt) < probeTTL {
		return s.probeErr
	}
	s.probeErr = s.backend.Probe(ctx)
	s.probedAt = s.now()
	if s.probeErr != nil {
		slog.Warn("AI backend unavailable, passing offers through", "backend", s.backend.Name(), "error", s.probeErr)
	}
	return s.probeErr
}

// Status probes the backend without using the cached result.
func (s *Stage) Status(ctx context.Context) StatusReport {
	if !s.Enabled() {
		return StatusReport{Enabled: false}
	}
	s.mu.Lock()
	s.probedAt = time.Time{}
	s.mu.Unlock()

	report := StatusReport{Enabled: true, Backend: s.backend.Name(), MinScore: s.minScore}
	if err := s.available(ctx); err != nil {
		report.Error = err.Error()
		return report
	}
	report.Available = true
	return report
}

// Evaluate decides whether to keep an offer.
func (s *Stage) Evaluate(ctx context.Context, o models.RawOffer) Outcome {
	if !s.Enabled() {
		return Outcome{Kind: KindUnavailable, Keep: true}
	}
	// Deadline is checked before the probe so the outcome does not depend on the backend.
	if o.ClosingAt == nil {
		return Outcome{Kind: KindDeadlineMissing, Keep: false, Reasons: []string{ReasonDeadlineUnknown}}
	}
	if err := s.available(ctx); err != nil {
		return Outcome{Kind: KindUnavailable, Keep: true, Err: err}
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	raw, err := s.backend.Generate(callCtx, buildPrompt(o, s.country))
	if err != nil {
		return Outcome{Kind: KindTransportError, Keep: true, Err: err}
	}
	v, err := parseVerdict(raw)
	if err != nil {
		return Outcome{Kind: KindTransportError, Keep: true, Err: err}
	}

	out := Outcome{
		Kind:            KindScored,
		Keep:            v.Keep,
		Score:           v.Score.ptr(),
		Summary:         util.Truncate(util.CollapseSpaces(v.Summary), maxSummaryLength, ""),
		InTargetCountry: v.InTargetCountry,
		Reasons:         v.reasons(),
	}
	if out.Score != nil && *out.Score < s.minScore {
		out.Keep = false
		out.Reasons = append(out.Reasons, ReasonScoreBelowMin)
	}
	// A verdict without the country flag counts as outside the country.
	if out.InTargetCountry == nil || !*out.InTargetCountry {
		out.Keep = false
		out.Reasons = append(out.Reasons, ReasonNotInTargetCountry)
	}
	return out
}

type verdict struct {
	Keep            bool            `json:"keep"`
	Score           flexInt         `json:"score"`
	Summary         string          `json:"summary"`
	InTargetCountry *bool           `json:"execution_in_target_country"`
	Reasons         json.RawMessage `json:"reasons"`
}

// reasons tolerates a missing or non-list field.
func (v verdict) reasons() []string {
	var out []string
	if len(v.Reasons) == 0 || json.Unmarshal(v.Reasons, &out) != nil {
		return nil
	}
	return out
}

// flexInt accepts 85, 85.0 and "85". Anything else decodes as unknown.
type flexInt struct {
	value int
	set   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		f.value, f.set = int(n), true
	}
	return nil
}

func (f flexInt) ptr() *int {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}

// parseVerdict isolates the JSON object between the first '{' and the last
// '}', since local models often wrap it in prose or code fences.
func parseVerdict(raw string) (verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return verdict{}, fmt.Errorf("no JSON object in AI response")
	}
	var v verdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return verdict{}, fmt.Errorf("failed to parse AI response: %w", err)
	}
	return v, nil
}
