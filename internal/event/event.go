// Package event implements the event record construction and
// delivery contract external event-log text formatting rides on
// (spec §4's Event Logger component; formatting itself is out of
// scope per spec §1, so this package stops at a structured record).
package event

import (
	"github.com/sirupsen/logrus"
)

// Class groups related event Codes, mirroring the original
// implementation's event-class table (decnet/events.py).
type Class int

const (
	ClassNetworkMgmt Class = iota
	ClassCirc
	ClassLine
	ClassRouting
	ClassMaintenance
)

// Code names one event within a Class. Names follow the original
// implementation's lower_snake identifiers so log output and the
// supplemented Node Info fields stay recognizable.
type Code int

const (
	CodeReachChg Code = iota
	CodeAreaChg
	CodeAdjUp
	CodeAdjDown
	CodeListenerTimeout
	CodeListenerInvalidData
	CodeUnreachDrop
	CodeOorDrop
	CodeAgedDrop
	CodeRoutUpdLoss
	CodeCircUp
	CodeCircDown
	CodeInitFault
	CodeVerRejected
)

var codeNames = map[Code]string{
	CodeReachChg:            "reach_chg",
	CodeAreaChg:             "area_chg",
	CodeAdjUp:               "adj_up",
	CodeAdjDown:             "adj_down",
	CodeListenerTimeout:     "listener_timeout",
	CodeListenerInvalidData: "listener_invalid_data",
	CodeUnreachDrop:         "unreach_drop",
	CodeOorDrop:             "oor_drop",
	CodeAgedDrop:            "aged_drop",
	CodeRoutUpdLoss:         "rout_upd_loss",
	CodeCircUp:              "circ_up",
	CodeCircDown:            "circ_down",
	CodeInitFault:           "init_fault",
	CodeVerRejected:         "ver_rejected",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "unknown_event"
}

// Event is a single logged occurrence: a class/code pair plus an
// arbitrary set of named fields (e.g. "highest_address" for
// rout_upd_loss, "circuit" for adj_up/down).
type Event struct {
	Class  Class
	Code   Code
	Fields map[string]interface{}
}

// New builds an Event with the given fields, copying the map so
// callers can reuse a scratch map across calls.
func New(class Class, code Code, fields map[string]interface{}) Event {
	cp := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Event{Class: class, Code: code, Fields: cp}
}

// Logger delivers Events. Text formatting is an external collaborator
// (spec §1); this logs structured fields via logrus so an external
// sink can still subscribe to a formatted stream if it chooses.
type Logger struct {
	log *logrus.Entry
	sub []chan<- Event
}

// NewLogger creates a Logger that writes through log.
func NewLogger(log *logrus.Entry) *Logger {
	return &Logger{log: log}
}

// Subscribe registers ch to receive every logged Event, non-blocking:
// a full channel drops the event rather than stalling the logger.
func (l *Logger) Subscribe(ch chan<- Event) {
	l.sub = append(l.sub, ch)
}

// Log records e: structured log fields plus best-effort delivery to
// subscribers.
func (l *Logger) Log(e Event) {
	entry := l.log.WithField("event", e.Code.String())
	for k, v := range e.Fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("event")

	for _, ch := range l.sub {
		select {
		case ch <- e:
		default:
		}
	}
}
