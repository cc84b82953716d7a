package netmon

import (
	"strings"
	"time"

	"tabwatch/pkg/model"
)

const (
	defaultQueryLimit = 10
	defaultWindow     = 30 * time.Second
	sampleSize        = 5
)

// windowTriggerMarks classify a completed request as user-driven when its
// trigger label carries one of them.
var windowTriggerMarks = []string{"click", "submit", "change", "input", "form"}

// Recent returns the latest completed requests, oldest first.
func (t *Tracker) Recent(limit int) []model.RequestRecord {
	return t.filterCompleted(limit, nil)
}

// Active returns requests still awaiting a terminal notification.
func (t *Tracker) Active() []model.RequestRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.RequestRecord, 0, len(t.active))
	for _, rec := range t.active {
		out = append(out, *rec)
	}
	return out
}

// APICalls returns the latest completed API requests.
func (t *Tracker) APICalls(limit int) []model.RequestRecord {
	return t.filterCompleted(limit, func(r *model.RequestRecord) bool { return r.IsAPICall() })
}

// UIResources returns the latest completed page resource requests.
func (t *Tracker) UIResources(limit int) []model.RequestRecord {
	return t.filterCompleted(limit, func(r *model.RequestRecord) bool { return r.IsUIResource() })
}

// Failed returns the latest failed requests.
func (t *Tracker) Failed(limit int) []model.RequestRecord {
	return t.filterCompleted(limit, func(r *model.RequestRecord) bool { return r.Failed })
}

// ByStatus returns the latest completed requests with the given HTTP status.
func (t *Tracker) ByStatus(status, limit int) []model.RequestRecord {
	return t.filterCompleted(limit, func(r *model.RequestRecord) bool { return r.Status == status })
}

// ByTrigger returns the latest requests whose trigger label contains pattern.
func (t *Tracker) ByTrigger(pattern string, limit int) []model.RequestRecord {
	p := strings.ToLower(pattern)
	return t.filterCompleted(limit, func(r *model.RequestRecord) bool {
		return r.Trigger != "" && strings.Contains(strings.ToLower(r.Trigger), p)
	})
}

// BySection returns the latest requests whose page section contains pattern.
func (t *Tracker) BySection(pattern string, limit int) []model.RequestRecord {
	p := strings.ToLower(pattern)
	return t.filterCompleted(limit, func(r *model.RequestRecord) bool {
		return r.UISection != "" && strings.Contains(strings.ToLower(r.UISection), p)
	})
}

// UserTriggered returns the latest requests attributed to user interaction.
func (t *Tracker) UserTriggered(limit int) []model.RequestRecord {
	return t.filterCompleted(limit, func(r *model.RequestRecord) bool { return r.IsUserTriggered() })
}

// Summary reports aggregate counters over the tracker state.
func (t *Tracker) Summary() model.ActivitySummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := model.ActivitySummary{
		Total:  len(t.completed),
		Active: len(t.active),
	}
	for _, rec := range t.completed {
		if rec.IsAPICall() {
			s.API++
		}
		if rec.Failed {
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Total-s.Failed) / float64(s.Total) * 100
	}
	return s
}

// AnalyzeRecentActivity reports on requests that started inside the trailing
// window, with the last few user-triggered and API samples.
func (t *Tracker) AnalyzeRecentActivity(window time.Duration) model.ActivityWindow {
	if window <= 0 {
		window = defaultWindow
	}
	cutoff := time.Now().Add(-window)

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := model.ActivityWindow{Window: window}
	var userTriggered, apiCalls []*model.RequestRecord
	for _, rec := range t.completed {
		if rec.StartTime.Before(cutoff) {
			continue
		}
		out.Total++
		if rec.Failed {
			out.Failed++
		}
		if rec.IsAPICall() {
			out.API++
			apiCalls = append(apiCalls, rec)
		}
		if trig := strings.ToLower(rec.Trigger); trig != "" && containsAny(trig, windowTriggerMarks) {
			out.UserTriggered++
			userTriggered = append(userTriggered, rec)
		}
	}
	out.UserSamples = sampleOf(userTriggered)
	out.APISamples = sampleOf(apiCalls)
	return out
}

// SectionSummary groups completed requests by the page section they were
// attributed to. Ties on the most active section break alphabetically.
func (t *Tracker) SectionSummary() model.SectionSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := model.SectionSummary{Sections: make(map[string]model.SectionStats)}
	for _, rec := range t.completed {
		name := rec.UISection
		if name == "" {
			name = "Unknown"
		}
		st := out.Sections[name]
		st.Total++
		if rec.IsAPICall() {
			st.API++
		}
		if rec.Failed {
			st.Failed++
		}
		out.Sections[name] = st
	}

	best := -1
	for name, st := range out.Sections {
		if st.Total > best || (st.Total == best && name < out.MostActive) {
			best = st.Total
			out.MostActive = name
		}
	}
	return out
}

// Clear drops completed history. Active requests keep tracking.
func (t *Tracker) Clear() {
	t.mu.Lock()
	n := len(t.completed)
	t.completed = nil
	t.mu.Unlock()
	t.log.Info("request history cleared", "dropped", n)
}

// filterCompleted returns value copies of the last limit completed records
// accepted by keep, in oldest-first order. A nil keep accepts everything.
func (t *Tracker) filterCompleted(limit int, keep func(*model.RequestRecord) bool) []model.RequestRecord {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var matched []*model.RequestRecord
	for _, rec := range t.completed {
		if keep == nil || keep(rec) {
			matched = append(matched, rec)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	out := make([]model.RequestRecord, 0, len(matched))
	for _, rec := range matched {
		out = append(out, *rec)
	}
	return out
}

func sampleOf(recs []*model.RequestRecord) []model.RequestSample {
	if len(recs) > sampleSize {
		recs = recs[len(recs)-sampleSize:]
	}
	out := make([]model.RequestSample, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.RequestSample{
			URL:     rec.URL,
			Method:  rec.Method,
			Status:  rec.Status,
			Trigger: rec.Trigger,
		})
	}
	return out
}

func containsAny(s string, marks []string) bool {
	for _, m := range marks {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
