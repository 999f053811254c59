package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// optFloat decodes a JSON number or numeric string. Null, empty strings and
// non-numeric text leave it unset rather than zero.
type optFloat struct {
	v  float64
	ok bool
}

func (f *optFloat) UnmarshalJSON(b []byte) error {
	*f = optFloat{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "km"))
		if v, err := strconv.ParseFloat(s, 64); err == nil && finite(v) {
			*f = optFloat{v: v, ok: true}
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = optFloat{v: v, ok: true}
	return nil
}

// finite rejects NaN and the infinities strconv accepts as "Inf".
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (f optFloat) ptr() *float64 {
	if !f.ok {
		return nil
	}
	v := f.v
	return &v
}

// rounded keeps one decimal, matching what the agencies publish.
func (f optFloat) rounded() *float64 {
	if !f.ok {
		return nil
	}
	v := math.Round(f.v*10) / 10
	return &v
}

// flexString decodes a string, number or bool into its text form.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	*s = flexString(string(b))
	return nil
}

func (s flexString) String() string { return string(s) }

func (s flexString) Int() (int, bool) {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && finite(f) {
		return int(f), true
	}
	return 0, false
}

// flexBool decodes true/false, 0/1 and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(strings.ToLower(string(bytes.TrimSpace(b))), `"`) {
	case "true", "1", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

var shindoPattern = regexp.MustCompile(`(\d+)\s*(弱|強|强|-|\+|lower|upper)?`)

// parseShindo maps a JMA seismic intensity string to a number: "5弱" is 4.5
// and "5強" is 5.5.
func parseShindo(value string) *float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	m := shindoPattern.FindStringSubmatch(value)
	if m == nil {
		return nil
	}
	base, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	v := float64(base)
	switch m[2] {
	case "弱", "-", "lower":
		v -= 0.5
	case "強", "强", "+", "upper":
		v += 0.5
	}
	return &v
}

var p2pScales = map[int]float64{
	10: 1, 20: 2, 30: 3, 40: 4, 45: 4.5, 50: 5, 55: 5.5, 60: 6, 70: 7,
}

func p2pScale(code int) *float64 {
	v, ok := p2pScales[code]
	if !ok {
		return nil
	}
	return &v
}

var romanIntensity = map[string]float64{
	"I": 1, "II": 2, "III": 3, "IV": 4, "V": 5, "VI": 6,
	"VII": 7, "VIII": 8, "IX": 9, "X": 10, "XI": 11, "XII": 12,
}

func parseRoman(value string) *float64 {
	v, ok := romanIntensity[strings.ToUpper(strings.TrimSpace(value))]
	if !ok {
		return nil
	}
	return &v
}
