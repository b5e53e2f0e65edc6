package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	texttmpl "text/template"
	"time"

	"outpass/internal/leave"
)

//go:embed templates/*
var templateFS embed.FS

var subjects = map[leave.EventType]string{
	leave.EventCreated:   "New leave request",
	leave.EventForwarded: "Leave request awaiting your decision",
	leave.EventApproved:  "Leave request approved",
	leave.EventRejected:  "Leave request rejected",
}

// ContextData is what every email template renders against.
type ContextData struct {
	AppName         string
	FrontendBaseURL string
	Recipient       string
	Data            Payload
}

// Renderer turns payloads into text and html bodies.
type Renderer struct {
	appName string
	baseURL string
	loc     *time.Location
	text    map[leave.EventType]*texttmpl.Template
	html    map[leave.EventType]*htmltmpl.Template
}

// NewRenderer parses every event template up front. Times are shown in loc.
func NewRenderer(appName, frontendBaseURL string, loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := &Renderer{
		appName: appName,
		baseURL: frontendBaseURL,
		loc:     loc,
		text:    make(map[leave.EventType]*texttmpl.Template),
		html:    make(map[leave.EventType]*htmltmpl.Template),
	}
	funcs := map[string]any{"fmtTime": r.fmtTime}

	for ev := range subjects {
		name := string(ev)
		tt, err := texttmpl.New(name).Funcs(funcs).Option("missingkey=error").
			ParseFS(templateFS, "templates/_base.txt", "templates/"+name+".txt")
		if err != nil {
			return nil, fmt.Errorf("parse %s.txt: %w", name, err)
		}
		ht, err := htmltmpl.New(name).Funcs(funcs).Option("missingkey=error").
			ParseFS(templateFS, "templates/_base.gohtml", "templates/"+name+".gohtml")
		if err != nil {
			return nil, fmt.Errorf("parse %s.gohtml: %w", name, err)
		}
		r.text[ev], r.html[ev] = tt, ht
	}
	return r, nil
}

// Render builds the email for p addressed to recipient. Callers fill in To.
func (r *Renderer) Render(p Payload, recipient string) (Email, error) {
	tt, ok := r.text[p.Event]
	if !ok {
		return Email{}, fmt.Errorf("no template for event %q", p.Event)
	}
	data := ContextData{
		AppName:         r.appName,
		FrontendBaseURL: r.baseURL,
		Recipient:       recipient,
		Data:            p,
	}

	var text, html bytes.Buffer
	if err := tt.ExecuteTemplate(&text, "base", data); err != nil {
		return Email{}, fmt.Errorf("render %s text: %w", p.Event, err)
	}
	if err := r.html[p.Event].ExecuteTemplate(&html, "base", data); err != nil {
		return Email{}, fmt.Errorf("render %s html: %w", p.Event, err)
	}
	return Email{Subject: subjectFor(p), Text: text.String(), HTML: html.String()}, nil
}

func (r *Renderer) fmtTime(t time.Time) string {
	return t.In(r.loc).Format("02 Jan 2006 15:04")
}

func subjectFor(p Payload) string {
	if p.Event == leave.EventRejected && p.IsExpired {
		return "Leave request expired"
	}
	return subjects[p.Event]
}
