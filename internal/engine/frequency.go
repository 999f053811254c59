package engine

import (
	"hazardguard/internal/config"
	"hazardguard/internal/model"
)

const (
	SuppressRepeat        = "repeat"
	SuppressNonFinal      = "non_final"
	SuppressAlreadyPushed = "already_pushed"
	SuppressCadence       = "cadence"
)

// Controller applies report cadence to classified events. It holds no state
// of its own; the lineage carries the last pushed report number.
type Controller struct {
	cfg config.FrequencyConfig
}

func NewController(cfg config.FrequencyConfig) *Controller {
	return &Controller{cfg: cfg}
}

// ShouldPush reports whether ev should be dispatched, and the suppression
// reason when it should not.
func (c *Controller) ShouldPush(l model.Lineage, class model.Classification, ev model.Event) (bool, string) {
	report := ev.Report()
	if class == model.ClassNew {
		return true, ""
	}
	if class == model.ClassRepeat {
		if ev.IsFinal && c.cfg.FinalReportAlwaysPush && (l.LastPushedReportNumber == nil || *l.LastPushedReportNumber < report) {
			return true, ""
		}
		return false, SuppressRepeat
	}
	if ev.IsFinal && c.cfg.FinalReportAlwaysPush {
		return true, ""
	}
	if class == model.ClassUpgrade {
		return true, ""
	}

	src, _ := model.LookupSource(ev.SourceID)
	if src.CadenceGroup == "" {
		return true, ""
	}
	if c.cfg.IgnoreNonFinalReports && !ev.IsFinal {
		return false, SuppressNonFinal
	}
	if l.LastPushedReportNumber == nil {
		return true, ""
	}
	if report <= *l.LastPushedReportNumber {
		return false, SuppressAlreadyPushed
	}
	n := c.cfg.ReportN[src.CadenceGroup]
	if n <= 0 {
		n = 1
	}
	if report%n == 0 {
		return true, ""
	}
	return false, SuppressCadence
}
