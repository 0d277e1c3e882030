package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/site"
)

// Content is a rendered notification.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

type badge struct {
	Label    string
	Priority site.Priority
}

type listingView struct {
	listing.Listing
	Badges []badge
}

type siteView struct {
	Name     string
	Title    string
	Listings []listingView
}

type messageView struct {
	Subject     string
	Count       int
	Sites       []siteView
	GeneratedAt time.Time
}

var funcs = map[string]any{
	"price": func(v *float64) string {
		if v == nil {
			return ""
		}
		return "€ " + strconv.FormatFloat(*v, 'f', 0, 64)
	},
	"number": func(v *float64) string {
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	},
	"truncate": func(n int, s string) string {
		r := []rune(s)
		if len(r) <= n {
			return s
		}
		return strings.TrimSpace(string(r[:n])) + "..."
	},
	"badgeColor": func(p site.Priority) string {
		switch p {
		case site.PriorityHigh:
			return "#c0392b"
		case site.PriorityMedium:
			return "#16a085"
		default:
			return "#7f8c8d"
		}
	},
	"when": func(t time.Time) string {
		return t.Format("02.01.2006 15:04")
	},
}

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: -apple-system, 'Segoe UI', Arial, sans-serif; line-height: 1.6; color: #333; background: #f5f5f5; padding: 20px; }
.container { max-width: 800px; margin: 0 auto; background: white; border-radius: 8px; padding: 30px; }
h1 { color: #2c3e50; }
h2 { color: #2c3e50; border-bottom: 1px solid #eee; padding-bottom: 6px; }
.flat { border: 1px solid #e0e0e0; border-radius: 8px; padding: 20px; margin-bottom: 20px; }
.flat-title { font-size: 20px; font-weight: 600; margin-bottom: 12px; }
.flat-detail { color: #666; font-size: 14px; margin-right: 20px; }
.flat-image { max-width: 100%; height: auto; border-radius: 6px; margin-bottom: 12px; }
.badge { color: white; display: inline-block; padding: 4px 8px; border-radius: 4px; font-size: 12px; font-weight: 600; margin-right: 8px; }
.flat-link { display: inline-block; background: #3498db; color: white; padding: 10px 20px; text-decoration: none; border-radius: 6px; margin-top: 12px; }
.meta { font-size: 12px; color: #999; margin-top: 12px; }
</style>
</head>
<body>
<div class="container">
<h1>{{.Subject}}</h1>
{{range .Sites}}
<h2>{{.Title}} ({{len .Listings}})</h2>
{{range .Listings}}
<div class="flat">
{{if .Image}}<img class="flat-image" src="{{.Image}}" alt="{{.Title}}">{{end}}
<div class="flat-title">{{.Title}}</div>
{{if .Badges}}<div>{{range .Badges}}<span class="badge" style="background: {{badgeColor .Priority}}">{{.Label}}</span>{{end}}</div>{{end}}
<div>
{{if .Price}}<span class="flat-detail"><strong>Price:</strong> {{price .Price}}</span>{{end}}
{{if .Size}}<span class="flat-detail"><strong>Size:</strong> {{number .Size}} m²</span>{{end}}
{{if .Rooms}}<span class="flat-detail"><strong>Rooms:</strong> {{number .Rooms}}</span>{{end}}
</div>
<div class="flat-detail"><strong>Location:</strong> {{.Location}}</div>
{{if .Description}}<p style="color: #666">{{truncate 200 .Description}}</p>{{end}}
<a class="flat-link" href="{{.URL}}">View listing</a>
<div class="meta">Source: {{.Source}} | Found: {{when .FirstSeen}}</div>
</div>
{{end}}
{{end}}
<div class="meta">Sent by flatwatch on {{when .GeneratedAt}}</div>
</div>
</body>
</html>
`))

var textTemplate = texttemplate.Must(texttemplate.New("text").Funcs(funcs).Parse(`{{.Subject}}
{{range .Sites}}
== {{.Title}} ({{len .Listings}}) ==
{{range .Listings}}
* {{.Title}}
  Location: {{.Location}}
{{- if .Price}}
  Price: {{price .Price}}{{end}}
{{- if .Size}}
  Size: {{number .Size}} m²{{end}}
{{- if .Rooms}}
  Rooms: {{number .Rooms}}{{end}}
{{- if .Badges}}
  Markers:{{range .Badges}} [{{.Label}}]{{end}}{{end}}
  {{.URL}}
{{end}}{{end}}
`))

// Subject returns the subject line for a message about count listings.
func Subject(count int) string {
	if count == 1 {
		return "1 new flat found"
	}
	return fmt.Sprintf("%d new flats found", count)
}

// Render produces the subject, HTML and plain text bodies for the given
// batches. Sites without listings are left out. Marker badges are shown
// by label, most important first.
func Render(batches []Batch, now time.Time) (*Content, error) {
	view := messageView{GeneratedAt: now}

	for _, b := range batches {
		if len(b.Listings) == 0 {
			continue
		}

		sv := siteView{Name: b.Site, Title: b.SiteTitle}
		if sv.Title == "" {
			sv.Title = b.Site
		}

		for _, l := range b.Listings {
			lv := listingView{Listing: l}
			names := l.Markers
			if b.Markers != nil {
				names = b.Markers.ByPriority(names)
			}
			for _, name := range names {
				bg := badge{Label: name, Priority: site.PriorityLow}
				if b.Markers != nil {
					bg.Label = b.Markers.Label(name)
					bg.Priority = b.Markers.Priority(name)
				}
				lv.Badges = append(lv.Badges, bg)
			}
			sv.Listings = append(sv.Listings, lv)
		}

		view.Count += len(sv.Listings)
		view.Sites = append(view.Sites, sv)
	}
	view.Subject = Subject(view.Count)

	var html, text bytes.Buffer
	if err := htmlTemplate.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("failed to render HTML message: %w", err)
	}
	if err := textTemplate.Execute(&text, view); err != nil {
		return nil, fmt.Errorf("failed to render text message: %w", err)
	}

	return &Content{
		Subject: view.Subject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
