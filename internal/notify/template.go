package notify

import (
	"html/template"
	"strings"

	"github.com/pkg/errors"
)

type body struct {
	ID         int64
	Client     string
	Commercial string
	Planning   string
	PlanURL    string
}

var mailTemplate = template.Must(template.New("new-order").Parse(`<html>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; margin: 0; padding: 0;">
  <table width="100%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding: 30px 0;">
      <table width="600" cellpadding="0" cellspacing="0" style="background-color: #ffffff; border-radius: 8px;">
        <tr style="background-color: #29235C;">
          <td style="padding: 30px; color: white; text-align: center;">
            <h2 style="margin:0;">Nouvelle commande ajoutée au tableau de production</h2>
            <div style="opacity:.9;margin-top:6px;">N° {{.ID}}</div>
          </td>
        </tr>
        <tr>
          <td style="padding: 30px; color: #333333;">
            <p>Bonjour,</p>
            <p style="margin:0 0 12px;">Nouvelle commande ajoutée au tableau de production :</p>
            <p style="margin:16px 0 8px;"><strong>Le document suivant a été généré :</strong></p>
            <table cellpadding="6" cellspacing="0" style="font-size: 14px;">
              <tr><td><strong>Client :</strong></td><td>{{or .Client "-"}}</td></tr>
              <tr><td><strong>Plan :</strong></td>
                <td>{{if .PlanURL}}<a href="{{.PlanURL}}" target="_blank">{{.PlanURL}}</a>{{else}}-{{end}}</td></tr>
              <tr><td><strong>Date planning :</strong></td><td>{{.Planning}}</td></tr>
              <tr><td><strong>Commercial :</strong></td><td>{{or .Commercial "-"}}</td></tr>
            </table>
            {{- if .PlanURL}}
            <p style="margin-top:18px;"><a href="{{.PlanURL}}" target="_blank" style="display:inline-block;padding:10px 16px;background:#29235C;color:#ffffff;text-decoration:none;border-radius:6px;">Ouvrir le plan d'installation</a></p>
            {{- end}}
            <p style="margin-top: 30px;">Cordialement,<br><strong>GDP, Le Casier Français</strong></p>
          </td>
        </tr>
      </table>
    </td></tr>
  </table>
</body>
</html>
`))

func renderHTML(b body) (string, error) {
	var sb strings.Builder
	if err := mailTemplate.Execute(&sb, b); err != nil {
		return "", errors.Wrap(err, "render mail body")
	}

	return sb.String(), nil
}
