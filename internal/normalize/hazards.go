package normalize

import (
	"encoding/json"
	"errors"
	"strings"

	"hazardguard/internal/model"
)

type fanStudioTsunamiPayload struct {
	ID          flexString `json:"id"`
	Code        flexString `json:"code"`
	Cancel      flexBool   `json:"cancel"`
	WarningInfo struct {
		Title   string `json:"title"`
		Level   string `json:"level"`
		Caption string `json:"caption"`
	} `json:"warningInfo"`
	TimeInfo struct {
		IssueTime   flexString `json:"issueTime"`
		PublishTime flexString `json:"publishTime"`
		UpdateDate  flexString `json:"updateDate"`
		AlarmDate   flexString `json:"alarmDate"`
	} `json:"timeInfo"`
	Forecasts []struct {
		Name                 string     `json:"forecastArea"`
		EstimatedArrivalTime flexString `json:"estimatedArrivalTime"`
		MaxWaveHeight        flexString `json:"maxWaveHeight"`
	} `json:"forecasts"`
}

// chinaTsunamiLevel maps MNR warning colours and words onto the ladder.
func chinaTsunamiLevel(level string) model.TsunamiLevel {
	switch {
	case strings.Contains(level, "解除"):
		return model.TsunamiNone
	case strings.Contains(level, "红"):
		return model.TsunamiMajorWarning
	case strings.Contains(level, "橙"), strings.Contains(level, "警报"):
		return model.TsunamiWarning
	case strings.Contains(level, "黄"), strings.Contains(level, "蓝"), strings.Contains(level, "信息"):
		return model.TsunamiAdvisory
	}
	return model.TsunamiAdvisory
}

func fanStudioTsunami(raw []byte, src model.Source) (model.Event, error) {
	var p fanStudioTsunamiPayload
	if err := json.Unmarshal(fanData(raw), &p); err != nil {
		return model.Event{}, err
	}
	title := firstNonEmpty(p.WarningInfo.Title, p.WarningInfo.Caption)
	if title == "" && p.Code == "" {
		return model.Event{}, errors.New("tsunami bulletin without title or code")
	}
	loc := model.ZoneLocation(src.Zone)
	ev := model.Event{
		EventID:  firstNonEmpty(p.ID.String(), p.Code.String()),
		IsCancel: bool(p.Cancel) || strings.Contains(p.WarningInfo.Level, "解除"),
	}
	issued := firstNonEmpty(p.TimeInfo.IssueTime.String(), p.TimeInfo.PublishTime.String(), p.TimeInfo.UpdateDate.String(), p.TimeInfo.AlarmDate.String())
	if issued != "" {
		t, err := ParseTimestamp(issued, loc)
		if err != nil {
			return model.Event{}, err
		}
		ev.OriginTime = t
	}
	ts := &model.Tsunami{Level: chinaTsunamiLevel(p.WarningInfo.Level), Title: title}
	for _, f := range p.Forecasts {
		region := model.TsunamiRegion{Name: f.Name, WaveHeight: f.MaxWaveHeight.String()}
		if eta, err := ParseTimestamp(f.EstimatedArrivalTime.String(), loc); err == nil {
			region.ETA = &eta
		}
		ts.Regions = append(ts.Regions, region)
	}
	ev.Tsunami = ts
	return ev, nil
}

type p2pTsunamiPayload struct {
	ID        flexString `json:"id"`
	Cancelled flexBool   `json:"cancelled"`
	Issue     struct {
		Time flexString `json:"time"`
		Type string     `json:"type"`
	} `json:"issue"`
	Areas []struct {
		Grade       string   `json:"grade"`
		Immediate   flexBool `json:"immediate"`
		Name        string   `json:"name"`
		FirstHeight struct {
			ArrivalTime flexString `json:"arrivalTime"`
			Condition   string     `json:"condition"`
		} `json:"firstHeight"`
		MaxHeight struct {
			Description string `json:"description"`
		} `json:"maxHeight"`
	} `json:"areas"`
}

var p2pTsunamiGrades = map[string]model.TsunamiLevel{
	"Watch":        model.TsunamiAdvisory,
	"Warning":      model.TsunamiWarning,
	"MajorWarning": model.TsunamiMajorWarning,
}

func p2pTsunami(raw []byte, src model.Source) (model.Event, error) {
	var p p2pTsunamiPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	if p.ID == "" {
		return model.Event{}, errors.New("missing bulletin id")
	}
	loc := model.ZoneLocation(src.Zone)
	ev := model.Event{EventID: p.ID.String(), IsCancel: bool(p.Cancelled)}
	if t, err := ParseTimestamp(p.Issue.Time.String(), loc); err == nil {
		ev.OriginTime = t
	}
	ts := &model.Tsunami{Level: model.TsunamiNone, Title: "津波予報"}
	for _, area := range p.Areas {
		if lvl := p2pTsunamiGrades[area.Grade]; lvl > ts.Level {
			ts.Level = lvl
		}
		region := model.TsunamiRegion{Name: area.Name, WaveHeight: area.MaxHeight.Description}
		if eta, err := ParseTimestamp(area.FirstHeight.ArrivalTime.String(), loc); err == nil {
			region.ETA = &eta
		}
		ts.Regions = append(ts.Regions, region)
	}
	switch {
	case ev.IsCancel:
		ts.Level = model.TsunamiNone
		ts.Title = "津波予報解除"
	case ts.Level == model.TsunamiMajorWarning:
		ts.Title = "大津波警報"
	case ts.Level == model.TsunamiWarning:
		ts.Title = "津波警報"
	case ts.Level == model.TsunamiAdvisory:
		ts.Title = "津波注意報"
	}
	ev.Tsunami = ts
	return ev, nil
}

type weatherPayload struct {
	ID          string     `json:"id"`
	Headline    string     `json:"headline"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	Effective   flexString `json:"effective"`
}

var headlineColors = []struct {
	word  string
	level model.ColorLevel
}{
	{"红色", model.ColorRed},
	{"橙色", model.ColorOrange},
	{"黄色", model.ColorYellow},
	{"蓝色", model.ColorBlue},
	{"白色", model.ColorWhite},
}

func colorIn(text string) model.ColorLevel {
	for _, c := range headlineColors {
		if strings.Contains(text, c.word) {
			return c.level
		}
	}
	return model.ColorWhite
}

func fanStudioWeather(raw []byte, src model.Source) (model.Event, error) {
	var p weatherPayload
	if err := json.Unmarshal(fanData(raw), &p); err != nil {
		return model.Event{}, err
	}
	if p.Headline == "" && p.Title == "" && p.Description == "" {
		return model.Event{}, errors.New("warning without headline, title or description")
	}
	loc := model.ZoneLocation(src.Zone)
	headline := firstNonEmpty(p.Headline, p.Title)
	w := &model.Weather{
		Province:    model.ProvinceIn(headline),
		HazardType:  p.Type,
		Color:       colorIn(headline),
		Headline:    headline,
		Description: p.Description,
	}
	if t, err := ParseTimestamp(p.Effective.String(), loc); err == nil {
		w.EffectiveTime = t
	}
	ev := model.Event{EventID: p.ID, Weather: w}
	if issued, ok := idIssueTime(p.ID, loc); ok {
		ev.OriginTime = issued
	} else {
		ev.OriginTime = w.EffectiveTime
	}
	return ev, nil
}
