package engine

import (
	"fmt"
	"math"
	"time"

	"attendguard/internal/clock"
	"attendguard/internal/config"
	"attendguard/internal/model"
	"attendguard/internal/outlier"
)

// Scorer is the part of the outlier model the rules depend on.
type Scorer interface {
	Score(rec model.AttendanceRecord) outlier.Verdict
}

// Rules is the detection config with clock values already parsed.
type Rules struct {
	WorkStart      int // minutes since midnight
	WorkEnd        int
	WorkHours      float64
	NormalBreak    float64
	BreakFactor    float64
	LateAfter      int
	EarlyBefore    int
	Location       *time.Location
	ShortDayFactor float64
}

func NewRules(d config.DetectionConfig) (Rules, error) {
	start, err := clock.ParseHHMM(d.NormalWorkStart)
	if err != nil {
		return Rules{}, err
	}
	end, err := clock.ParseHHMM(d.NormalWorkEnd)
	if err != nil {
		return Rules{}, err
	}
	return Rules{
		WorkStart:      start,
		WorkEnd:        end,
		WorkHours:      d.WorkHoursPerDay,
		NormalBreak:    d.NormalBreakDuration,
		BreakFactor:    d.AbnormalBreakMultiplier,
		LateAfter:      d.LateThresholdMinutes,
		EarlyBefore:    d.EarlyDepartureThresholdMinutes,
		Location:       d.Location(),
		ShortDayFactor: 0.75,
	}, nil
}

// Evaluate runs the rule battery over a record in a fixed order. It has no
// side effects; scorer may be nil.
func (r Rules) Evaluate(rec model.AttendanceRecord, scorer Scorer) []model.Candidate {
	out := make([]model.Candidate, 0, 4)
	if rec.TimeIn == nil {
		return append(out, model.Candidate{
			Kind:        model.KindMissingCheckIn,
			Severity:    model.SeverityHigh,
			Description: "Missing check-in record detected.",
		})
	}

	start := clock.At(rec.Date, r.WorkStart, r.Location)
	if rec.TimeIn.After(start.Add(time.Duration(r.LateAfter) * time.Minute)) {
		out = append(out, model.Candidate{
			Kind:        model.KindLateArrival,
			Severity:    model.SeverityMedium,
			Description: fmt.Sprintf("Late arrival detected. Employee arrived %d minutes late.", clock.WholeMinutes(rec.TimeIn.Sub(start))),
		})
	}

	if rec.TimeOut != nil {
		end := clock.At(rec.Date, r.WorkEnd, r.Location)
		if rec.TimeOut.Before(end.Add(-time.Duration(r.EarlyBefore) * time.Minute)) {
			out = append(out, model.Candidate{
				Kind:        model.KindEarlyDeparture,
				Severity:    model.SeverityMedium,
				Description: fmt.Sprintf("Early departure detected. Employee left %d minutes early.", clock.WholeMinutes(end.Sub(*rec.TimeOut))),
			})
		}
	} else {
		out = append(out, model.Candidate{
			Kind:        model.KindMissingCheckOut,
			Severity:    model.SeverityMedium,
			Description: "Missing check-out record detected.",
		})
	}

	limit := r.NormalBreak * r.BreakFactor
	for _, b := range rec.Breaks {
		if b.DurationMinutes == nil || *b.DurationMinutes <= limit {
			continue
		}
		excess := *b.DurationMinutes - r.NormalBreak
		out = append(out, model.Candidate{
			Kind:        model.KindExtendedBreak,
			Severity:    model.SeverityLow,
			Description: fmt.Sprintf("Extended break detected. Break was %d minutes longer than usual.", int(math.Floor(excess))),
		})
	}

	if rec.TotalHours != nil && *rec.TotalHours < r.WorkHours*r.ShortDayFactor {
		out = append(out, model.Candidate{
			Kind:        model.KindShortWorkday,
			Severity:    model.SeverityMedium,
			Description: fmt.Sprintf("Short workday detected. Employee worked only %.2f hours.", *rec.TotalHours),
		})
	}

	if scorer != nil && rec.TimeOut != nil && scorer.Score(rec) == outlier.Outlier {
		out = append(out, model.Candidate{
			Kind:        model.KindUnusualPattern,
			Severity:    model.SeverityHigh,
			Description: "Unusual attendance pattern detected by machine learning model.",
		})
	}
	return out
}

func multipleSwipes(windowMinutes int) model.Candidate {
	return model.Candidate{
		Kind:        model.KindMultipleSwipes,
		Severity:    model.SeverityHigh,
		Description: fmt.Sprintf("Multiple card swipes detected within %d minutes.", windowMinutes),
	}
}
