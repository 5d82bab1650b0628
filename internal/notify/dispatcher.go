package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"facewatch/internal/alert"
	"facewatch/internal/database"
	"facewatch/internal/pipeline"
)

// Alert titles.
const (
	TitleImage  = "🚨 Criminal Detected"
	TitleVideo  = "🚨 Criminal Detected (Video)"
	TitleSketch = "🚨 Criminal Detected (Sketch)"
)

const footer = "\n\nThis alert was triggered automatically by the facewatch system."

// Contact is the requesting user's delivery details; any field may be empty.
type Contact struct {
	Username string
	Phone    string
	Email    string
}

// Request asks the dispatcher to alert on a batch of matches.
type Request struct {
	Title   string
	Source  string
	Matches []pipeline.Match
	Image   []byte
	User    *Contact
	Live    bool
}

// HistoryRecorder persists dispatched alerts.
type HistoryRecorder interface {
	RecordAlert(ctx context.Context, rec database.AlertRecord) error
}

// DispatcherConfig holds recipient fallbacks and the live location string.
type DispatcherConfig struct {
	DefaultSMSRecipient   string
	DefaultEmailRecipient string
	Location              string
	SendTimeout           time.Duration
}

// Dispatcher runs matches through the alert gate and fans eligible alerts out
// to every configured channel in the background.
type Dispatcher struct {
	gate     *alert.Gate
	cfg      DispatcherConfig
	history  HistoryRecorder
	channels map[string]Notifier
	order    []string
	now      func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher wires the gate with the given channels. history may be nil.
func NewDispatcher(gate *alert.Gate, cfg DispatcherConfig, history HistoryRecorder, channels ...Notifier) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Minute
	}
	d := &Dispatcher{
		gate:     gate,
		cfg:      cfg,
		history:  history,
		channels: make(map[string]Notifier, len(channels)),
		now:      time.Now,
	}
	for _, n := range channels {
		if n == nil {
			continue
		}
		d.channels[n.Channel()] = n
		d.order = append(d.order, n.Channel())
	}
	return d
}

// Message is the composed text of an alert for one primary match.
type Message struct {
	Summary string
	Full    string
}

// Compose builds the summary and full alert text for m.
func (d *Dispatcher) Compose(m pipeline.Match, live bool) Message {
	summary := fmt.Sprintf("%s | score %.2f", m.Label, m.Score)
	location := ""
	if live && d.cfg.Location != "" {
		location = "\n📍 Location: " + d.cfg.Location
	}
	return Message{Summary: summary, Full: summary + location + footer}
}

// recipients resolves phone and email for req, falling back to the defaults
// and dropping values that fail validation.
func (d *Dispatcher) recipients(user *Contact) (phone, email string) {
	if user != nil {
		phone = user.Phone
		email = user.Email
		if email == "" && strings.Contains(user.Username, "@") {
			email = user.Username
		}
	}
	if phone == "" {
		phone = d.cfg.DefaultSMSRecipient
	}
	if email == "" {
		email = d.cfg.DefaultEmailRecipient
	}

	if phone != "" {
		normalized, ok := NormalizePhone(phone)
		if !ok {
			log.Printf("[Dispatcher] Skipping SMS - invalid phone format: %s", phone)
			phone = ""
		} else {
			phone = normalized
		}
	}
	if email != "" && !ValidEmail(email) {
		log.Printf("[Dispatcher] Skipping email - invalid email format: %s", email)
		email = ""
	}
	return phone, email
}

// Dispatch evaluates req against the gate. When any match is eligible the
// primary (highest scoring) one is sent on every configured channel in the
// background and the eligible list is returned. Delivery outcome does not
// affect the return value.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) []pipeline.Match {
	if len(req.Matches) == 0 {
		return nil
	}
	eligible := d.gate.Evaluate(req.Matches, d.now())
	if len(eligible) == 0 {
		return nil
	}

	primary := eligible[0]
	msg := d.Compose(primary, req.Live)
	phone, email := d.recipients(req.User)

	alerts := map[string]Alert{}
	if n, ok := d.channels[ChannelSMS]; ok && phone != "" && n.Configured() {
		alerts[ChannelSMS] = Alert{Title: req.Title, Body: msg.Full, Recipient: phone}
	}
	if n, ok := d.channels[ChannelPushover]; ok && n.Configured() {
		body := msg.Summary
		if req.Live {
			body = msg.Full
		}
		alerts[ChannelPushover] = Alert{Title: req.Title, Body: body, Image: req.Image}
	}
	if n, ok := d.channels[ChannelEmail]; ok && email != "" && n.Configured() {
		alerts[ChannelEmail] = Alert{Title: req.Title, Body: msg.Full, Image: req.Image, Recipient: email}
	}
	if n, ok := d.channels[ChannelTelegram]; ok && n.Configured() {
		alerts[ChannelTelegram] = Alert{Title: req.Title, Body: msg.Full, Image: req.Image}
	}

	log.Printf("[Dispatcher] Alerting on %s (score %.2f) via %d channel(s)", primary.Label, primary.Score, len(alerts))

	rec := database.AlertRecord{
		ID:        uuid.NewString(),
		Title:     req.Title,
		Source:    req.Source,
		Label:     primary.Label,
		Score:     primary.Score,
		Channels:  make(map[string]bool, len(alerts)),
		CreatedAt: d.now(),
	}

	// Delivery outlives the request that triggered it.
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(bg, d.cfg.SendTimeout)
		defer cancel()

		var mu sync.Mutex
		var inner sync.WaitGroup
		for _, name := range d.order {
			a, ok := alerts[name]
			if !ok {
				continue
			}
			n := d.channels[name]
			inner.Add(1)
			go func() {
				defer inner.Done()
				ok := n.Notify(sendCtx, a)
				mu.Lock()
				rec.Channels[name] = ok
				mu.Unlock()
			}()
		}
		inner.Wait()

		if d.history != nil {
			if err := d.history.RecordAlert(bg, rec); err != nil {
				log.Printf("[Dispatcher] Failed to record alert history: %v", err)
			}
		}
	}()

	return eligible
}

// Send delivers one alert on a single named channel synchronously.
func (d *Dispatcher) Send(ctx context.Context, channel string, a Alert) (bool, error) {
	n, ok := d.channels[channel]
	if !ok {
		return false, fmt.Errorf("unknown channel %q", channel)
	}
	if !n.Configured() {
		return false, fmt.Errorf("%s channel is not configured", channel)
	}
	return n.Notify(ctx, a), nil
}

// Channels reports each registered channel and whether it is configured.
func (d *Dispatcher) Channels() map[string]bool {
	out := make(map[string]bool, len(d.channels))
	for name, n := range d.channels {
		out[name] = n.Configured()
	}
	return out
}

// Wait blocks until all background deliveries have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
