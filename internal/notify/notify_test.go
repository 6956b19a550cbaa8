package notify_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gdp-tracker/gdp-backend/internal/notify"
	"github.com/gdp-tracker/gdp-backend/internal/orders"
	"github.com/gdp-tracker/gdp-backend/pkg/configx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://lecasierfrancais.sharepoint.com/sites/Production/Documents%20partages/"

func mailConfig() configx.MailConfig {
	return configx.MailConfig{
		To:           "vmazurek@lecasierfrancais.fr",
		Bcc:          []string{"nmazurek@lecasierfrancais.fr", "jbdelefolly@lecasierfrancais.fr", "conseil@manuel-moutier.com", "tderache@lecasierfrancais.fr"},
		MarketingBcc: []string{"communication@lecasierfrancais.fr", "hpoizot@lecasierfrancais.fr"},
		SharePoint:   base,
	}
}

func TestRecipients(t *testing.T) {
	to, cc, bcc := notify.Recipients(mailConfig(), "", false)
	assert.Equal(t, "vmazurek@lecasierfrancais.fr", to)
	assert.Empty(t, cc)
	assert.Len(t, bcc, 4)

	_, _, bcc = notify.Recipients(mailConfig(), "", true)
	assert.Len(t, bcc, 6)
	assert.Equal(t, "hpoizot@lecasierfrancais.fr", bcc[5])
}

func TestRecipientsRemovesToAndCCFromBCC(t *testing.T) {
	cfg := mailConfig()
	cfg.Bcc = append(cfg.Bcc, "VMazurek@lecasierfrancais.fr", " nmazurek@LECASIERFRANCAIS.fr ", "")

	to, cc, bcc := notify.Recipients(cfg, " TDerache@lecasierfrancais.fr ", false)
	assert.Equal(t, "vmazurek@lecasierfrancais.fr", to)
	assert.Equal(t, []string{"TDerache@lecasierfrancais.fr"}, cc)
	assert.Equal(t, []string{"nmazurek@lecasierfrancais.fr", "jbdelefolly@lecasierfrancais.fr", "conseil@manuel-moutier.com"}, bcc)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "[GDP] Nouvelle commande #42 - FERME DU BOIS", notify.Subject(42, " FERME DU BOIS "))
	assert.Equal(t, "[GDP] Nouvelle commande #42 - Client", notify.Subject(42, ""))
}

func TestSharePointURL(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "production library",
			path: `"C:\Users\vm\Le Casier Français\Production - Documents\Dossiers clients\FERME\plan #2.pdf"`,
			want: base + "Dossiers%20clients/FERME/plan%20%232.pdf",
		},
		{
			name: "client folder only",
			path: `D:\Sync\dossiers clients\Ferme du Bois\plan.pdf`,
			want: base + "dossiers%20clients/Ferme%20du%20Bois/plan.pdf",
		},
		{name: "unknown location", path: `C:\temp\plan.pdf`, want: ""},
		{name: "empty", path: "  ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, notify.SharePointURL(base, tt.path))
		})
	}
}

func TestMailtoURL(t *testing.T) {
	link := notify.MailtoURL(notify.Message{
		To:      "vmazurek@lecasierfrancais.fr",
		CC:      []string{"a@example.org"},
		BCC:     []string{"b@example.org", "c@example.org"},
		Subject: "[GDP] Nouvelle commande #7 - Client",
	}, "Nouvelle commande ajoutée au tableau de production.")

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "mailto", u.Scheme)
	assert.Equal(t, "vmazurek@lecasierfrancais.fr", u.Opaque)

	q, err := url.ParseQuery(u.RawQuery)
	require.NoError(t, err)
	assert.Equal(t, "a@example.org", q.Get("cc"))
	assert.Equal(t, "b@example.org;c@example.org", q.Get("bcc"))
	assert.Equal(t, "[GDP] Nouvelle commande #7 - Client", q.Get("subject"))
	assert.Equal(t, "Nouvelle commande ajoutée au tableau de production.", q.Get("body"))
	assert.NotContains(t, link, "+")
}

func TestCompose(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.Local)
	rec := orders.Record{
		orders.ColNomClient:       "Ferme <du> Bois",
		orders.ColNomCommercial:   "Paul Roux",
		orders.ColMarketing:       "oui",
		orders.ColPlanLien:        "",
		orders.ColPlan:            `C:\Production - Documents\Dossiers clients\Ferme\plan.pdf`,
		orders.ColDatePlanning:    "",
		orders.ColLivraisonPrevue: "27/05/2025",
	}

	msg, err := notify.Compose(mailConfig(), 9, rec, "paul@example.org", now)
	require.NoError(t, err)

	assert.Equal(t, "[GDP] Nouvelle commande #9 - Ferme <du> Bois", msg.Subject)
	assert.Equal(t, []string{"paul@example.org"}, msg.CC)
	assert.Len(t, msg.BCC, 6)
	assert.Contains(t, msg.HTML, "N° 9")
	assert.Contains(t, msg.HTML, "Ferme &lt;du&gt; Bois")
	assert.Contains(t, msg.HTML, "04/03/2025")
	assert.Contains(t, msg.HTML, `href="`+base+`Dossiers%20clients/Ferme/plan.pdf"`)
	assert.Contains(t, msg.HTML, "Ouvrir le plan")
}

func TestComposeWithoutPlan(t *testing.T) {
	msg, err := notify.Compose(mailConfig(), 3, orders.Record{orders.ColDatePlanning: "01/02/2025"}, "", time.Now())
	require.NoError(t, err)

	assert.Equal(t, "[GDP] Nouvelle commande #3 - Client", msg.Subject)
	assert.Contains(t, msg.HTML, "01/02/2025")
	assert.NotContains(t, msg.HTML, "Ouvrir le plan")
	assert.NotContains(t, msg.HTML, "<a ")
}

func TestComposeKeepsWebLinks(t *testing.T) {
	rec := orders.Record{orders.ColPlanLien: "https://example.org/plan?id=1"}

	msg, err := notify.Compose(mailConfig(), 3, rec, "", time.Now())
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "https://example.org/plan?id=1")
}

type recordingDrafter struct {
	msg notify.Message
	err error
}

func (d *recordingDrafter) Draft(ctx context.Context, msg notify.Message) (notify.Info, error) {
	d.msg = msg
	if d.err != nil {
		return notify.Info{}, d.err
	}

	return notify.Info{Attempted: true, Displayed: true, To: msg.To}, nil
}

func TestNotifierNewOrder(t *testing.T) {
	d := &recordingDrafter{}
	n := notify.NewNotifier(mailConfig(), d)

	var looked string
	info := n.NewOrder(context.Background(), 12, orders.Record{orders.ColNomCommercial: " Hélène Martin ", orders.ColNomClient: "FERME"},
		func(ctx context.Context, nom string) (string, error) {
			looked = nom
			return "helene@example.org", nil
		})

	assert.Equal(t, "Hélène Martin", looked)
	assert.True(t, info.Displayed)
	assert.Equal(t, []string{"helene@example.org"}, d.msg.CC)
	assert.Equal(t, "[GDP] Nouvelle commande #12 - FERME", d.msg.Subject)
}

func TestNotifierLookupFailureStillDrafts(t *testing.T) {
	d := &recordingDrafter{}

	info := notify.NewNotifier(mailConfig(), d).NewOrder(context.Background(), 1, orders.Record{},
		func(context.Context, string) (string, error) { return "", errors.New("SSH_TUNNEL_DOWN") })

	assert.True(t, info.Attempted)
	assert.Empty(t, d.msg.CC)
}

func TestNotifierDraftFailure(t *testing.T) {
	d := &recordingDrafter{err: errors.New("outlook_unavailable")}

	info := notify.NewNotifier(mailConfig(), d).NewOrder(context.Background(), 1, orders.Record{}, nil)
	assert.True(t, info.Attempted)
	assert.False(t, info.Displayed)
	assert.Equal(t, "outlook_unavailable", info.Reason)
	assert.Equal(t, "vmazurek@lecasierfrancais.fr", info.To)
}

func TestMailtoDrafter(t *testing.T) {
	info := notify.NewNotifier(mailConfig(), nil).NewOrder(context.Background(), 5,
		orders.Record{orders.ColNomClient: "FERME", orders.ColMarketing: "NON"}, nil)

	assert.True(t, info.Attempted)
	assert.True(t, info.MailtoFallback)
	assert.False(t, info.Sent)
	assert.True(t, strings.HasPrefix(info.Mailto, "mailto:vmazurek@lecasierfrancais.fr?bcc="))
	assert.Len(t, info.BCC, 4)
	assert.Equal(t, "[GDP] Nouvelle commande #5 - FERME", info.Subject)
}
