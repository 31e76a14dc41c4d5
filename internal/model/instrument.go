package model

import "strconv"

// Instrument is one entry of the instrument registry: a display name used
// for the on-disk directory and the numeric token the API expects.
type Instrument struct {
	Name  string `json:"name" yaml:"name"`
	Token int64  `json:"token" yaml:"token"`
}

// Key returns "name:token", used for log and metric labels.
func (i *Instrument) Key() string {
	return i.Name + ":" + strconv.FormatInt(i.Token, 10)
}
