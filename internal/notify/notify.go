// Package notify drafts the mail announcing a new order to the production team.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gdp-tracker/gdp-backend/internal/orders"
	"github.com/gdp-tracker/gdp-backend/pkg/configx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx/timex"
)

const (
	fallbackClient = "Client"
	mailtoBody     = "Nouvelle commande ajoutée au tableau de production."
)

// Message is a composed mail.
type Message struct {
	To      string
	CC      []string
	BCC     []string
	Subject string
	HTML    string
}

// Info describes the outcome of a draft; it is returned to the client with the new order.
type Info struct {
	Attempted      bool     `json:"attempted"`
	Sent           bool     `json:"sent"`
	Displayed      bool     `json:"displayed"`
	To             string   `json:"to"`
	CC             []string `json:"cc"`
	BCC            []string `json:"bcc"`
	Subject        string   `json:"subject"`
	Reason         string   `json:"reason,omitempty"`
	MailtoFallback bool     `json:"mailto_fallback"`
	Mailto         string   `json:"mailto,omitempty"`
}

// Drafter hands a message to whatever presents it to the user.
type Drafter interface {
	Draft(ctx context.Context, msg Message) (Info, error)
}

// MailtoDrafter turns the message into a mailto link for the desktop client to open.
// mailto carries no HTML, the body is a one line summary.
type MailtoDrafter struct{}

func (MailtoDrafter) Draft(_ context.Context, msg Message) (Info, error) {
	return Info{
		Attempted:      true,
		To:             msg.To,
		CC:             msg.CC,
		BCC:            msg.BCC,
		Subject:        msg.Subject,
		MailtoFallback: true,
		Mailto:         MailtoURL(msg, mailtoBody),
	}, nil
}

// CommercialLookup returns the address of a salesperson, "" when unknown.
type CommercialLookup func(ctx context.Context, nomCommercial string) (string, error)

type Notifier struct {
	cfg     configx.MailConfig
	drafter Drafter
	now     func() time.Time
}

func NewNotifier(cfg configx.MailConfig, drafter Drafter) *Notifier {
	if drafter == nil {
		drafter = MailtoDrafter{}
	}

	return &Notifier{cfg: cfg, drafter: drafter, now: time.Now}
}

// NewOrder drafts the announcement of order id. Failures are logged and reported in Info,
// the order is already stored.
func (n *Notifier) NewOrder(ctx context.Context, id int64, rec orders.Record, lookup CommercialLookup) Info {
	logger := logx.GetLogger()

	var cc string

	if lookup != nil {
		mail, err := lookup(ctx, strings.TrimSpace(rec.Get(orders.ColNomCommercial)))
		if err != nil {
			logger.LogWarning(ctx, "notify: commercial address lookup failed", err)
		}

		cc = mail
	}

	msg, err := Compose(n.cfg, id, rec, cc, n.now())
	if err != nil {
		logger.LogError(ctx, fmt.Sprintf("notify: compose mail of order %d", id), err)
		return Info{Attempted: true, Reason: err.Error()}
	}

	info, err := n.drafter.Draft(ctx, msg)
	if err != nil {
		logger.LogError(ctx, fmt.Sprintf("notify: draft mail of order %d", id), err)

		info.Attempted = true
		info.To = msg.To
		info.Reason = err.Error()

		return info
	}

	logger.LogInfo(ctx, fmt.Sprintf("notify: mail of order %d drafted for %s", id, msg.To))

	return info
}

// Recipients applies the addressing rules: fixed To, the salesperson in CC, the fixed list in BCC
// plus the marketing list for marketing orders. Lists are deduplicated ignoring case and BCC never
// repeats To or CC.
func Recipients(cfg configx.MailConfig, commercial string, marketing bool) (to string, cc, bcc []string) {
	to = strings.TrimSpace(cfg.To)
	cc = utilx.DedupFold([]string{commercial})

	list := append([]string{}, cfg.Bcc...)
	if marketing {
		list = append(list, cfg.MarketingBcc...)
	}

	taken := map[string]struct{}{strings.ToLower(to): {}}
	for _, c := range cc {
		taken[strings.ToLower(c)] = struct{}{}
	}

	bcc = []string{}

	for _, b := range utilx.DedupFold(list) {
		if _, ok := taken[strings.ToLower(b)]; !ok {
			bcc = append(bcc, b)
		}
	}

	return to, cc, bcc
}

// Subject is the subject line of the announcement of order id.
func Subject(id int64, nomClient string) string {
	nomClient = strings.TrimSpace(nomClient)
	if nomClient == "" {
		nomClient = fallbackClient
	}

	return fmt.Sprintf("[GDP] Nouvelle commande #%d - %s", id, nomClient)
}

// Compose builds the announcement of order id from its stored values.
func Compose(cfg configx.MailConfig, id int64, rec orders.Record, commercialMail string, now time.Time) (Message, error) {
	marketing := strings.EqualFold(strings.TrimSpace(rec.Get(orders.ColMarketing)), "OUI")
	to, cc, bcc := Recipients(cfg, commercialMail, marketing)

	planning := strings.TrimSpace(rec.Get(orders.ColDatePlanning))
	if planning == "" {
		planning = timex.FormatDate(timex.Today(now))
	}

	plan := strings.TrimSpace(rec.Get(orders.ColPlanLien))
	if plan == "" {
		plan = strings.TrimSpace(rec.Get(orders.ColPlan))
	}

	if plan != "" && !strings.Contains(plan, "://") {
		plan = SharePointURL(cfg.SharePoint, plan)
	}

	html, err := renderHTML(body{
		ID:         id,
		Client:     strings.TrimSpace(rec.Get(orders.ColNomClient)),
		Commercial: strings.TrimSpace(rec.Get(orders.ColNomCommercial)),
		Planning:   planning,
		PlanURL:    plan,
	})
	if err != nil {
		return Message{}, err
	}

	return Message{
		To:      to,
		CC:      cc,
		BCC:     bcc,
		Subject: Subject(id, rec.Get(orders.ColNomClient)),
		HTML:    html,
	}, nil
}

var sharePointAnchors = []struct {
	marker   string
	keepFrom int
}{
	{marker: "/production - documents/", keepFrom: len("/production - documents/")},
	{marker: "/dossiers clients/", keepFrom: 1},
}

// SharePointURL converts a Windows path of the synchronised production library to its web address.
// The path is cut after "Production - Documents" or at "Dossiers clients"; anything else gives "".
func SharePointURL(base, p string) string {
	s := strings.ReplaceAll(strings.Trim(strings.TrimSpace(p), `"`), `\`, "/")
	if s == "" {
		return ""
	}

	lower := strings.ToLower(s)

	for _, a := range sharePointAnchors {
		pos := strings.Index(lower, a.marker)
		if pos < 0 {
			continue
		}

		parts := strings.Split(s[pos+a.keepFrom:], "/")
		for i, part := range parts {
			parts[i] = url.PathEscape(part)
		}

		return base + strings.Join(parts, "/")
	}

	return ""
}

// MailtoURL renders msg as a mailto link. Lists are joined with ";" as Outlook expects.
func MailtoURL(msg Message, text string) string {
	var q []string

	if len(msg.CC) > 0 {
		q = append(q, "cc="+url.PathEscape(strings.Join(msg.CC, ";")))
	}

	if len(msg.BCC) > 0 {
		q = append(q, "bcc="+url.PathEscape(strings.Join(msg.BCC, ";")))
	}

	q = append(q, "subject="+url.PathEscape(msg.Subject), "body="+url.PathEscape(text))

	return "mailto:" + msg.To + "?" + strings.Join(q, "&")
}
