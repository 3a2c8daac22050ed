package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// jsonDuration encodes as a duration string such as "5m0s" and decodes from
// either a duration string or a number of seconds.
type jsonDuration time.Duration

func (d jsonDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*d = 0
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", s, err)
		}
		*d = jsonDuration(v)
		return nil
	}
	secs, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid timeout %s: want a duration string or seconds", b)
	}
	*d = jsonDuration(secs * float64(time.Second))
	return nil
}

func (d Definition) MarshalJSON() ([]byte, error) {
	type plain Definition
	return json.Marshal(struct {
		plain
		Timeout jsonDuration `json:"timeout"`
	}{plain(d), jsonDuration(d.Timeout)})
}

func (d *Definition) UnmarshalJSON(b []byte) error {
	type plain Definition
	aux := struct {
		*plain
		Timeout jsonDuration `json:"timeout"`
	}{plain: (*plain)(d), Timeout: jsonDuration(d.Timeout)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	d.Timeout = time.Duration(aux.Timeout)
	return nil
}

func (t Task) MarshalJSON() ([]byte, error) {
	type plain Task
	return json.Marshal(struct {
		plain
		Timeout jsonDuration `json:"timeout"`
	}{plain(t), jsonDuration(t.Timeout)})
}

func (t *Task) UnmarshalJSON(b []byte) error {
	type plain Task
	aux := struct {
		*plain
		Timeout jsonDuration `json:"timeout"`
	}{plain: (*plain)(t), Timeout: jsonDuration(t.Timeout)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t.Timeout = time.Duration(aux.Timeout)
	return nil
}
