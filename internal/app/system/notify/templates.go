package notify

import (
	"bytes"
	"html/template"
)

// ShareEmailData fills the share notification.
type ShareEmailData struct {
	AppName     string
	GranteeName string
	SharedBy    string
	ItemName    string
	ItemKind    string // "file" or "folder"
	Permission  string
	OpenURL     string
}

// ShareEmail renders the plain text and HTML versions of a share
// notification.
func ShareEmail(data ShareEmailData) (textBody, htmlBody string, err error) {
	greeting := "Hello"
	if data.GranteeName != "" {
		greeting += " " + data.GranteeName
	}
	textBody = greeting + ",\n\n" +
		data.SharedBy + " shared the " + data.ItemKind + " \"" + data.ItemName + "\" with you on " + data.AppName +
		" with " + data.Permission + " access.\n"
	if data.OpenURL != "" {
		textBody += "\nOpen it here:\n" + data.OpenURL + "\n"
	}

	var buf bytes.Buffer
	if err := shareHTMLTmpl.Execute(&buf, data); err != nil {
		return textBody, "", err
	}
	return textBody, buf.String(), nil
}

var shareHTMLTmpl = template.Must(template.New("share").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Shared with you</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f4f4f5;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f4f4f5;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
          <tr>
            <td style="padding: 32px 32px 24px 32px; text-align: center; border-bottom: 1px solid #e4e4e7;">
              <h1 style="margin: 0; font-size: 24px; font-weight: 600; color: #18181b;">{{.AppName}}</h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 32px;">
              <p style="margin: 0 0 16px 0; font-size: 15px; line-height: 1.6; color: #52525b;">
                Hello{{if .GranteeName}} {{.GranteeName}}{{end}},
              </p>
              <p style="margin: 0 0 16px 0; font-size: 15px; line-height: 1.6; color: #52525b;">
                <strong>{{.SharedBy}}</strong> shared the {{.ItemKind}} <strong>{{.ItemName}}</strong> with you.
              </p>
              <div style="padding: 16px; background-color: #f4f4f5; border-radius: 6px; margin-bottom: 24px;">
                <p style="margin: 0; font-size: 14px; color: #52525b;">
                  <strong>Access:</strong> {{.Permission}}
                </p>
              </div>
              {{if .OpenURL}}
              <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
                <tr>
                  <td align="center" style="padding: 0 0 16px 0;">
                    <a href="{{.OpenURL}}" style="display: inline-block; padding: 14px 32px; background-color: #4f46e5; color: #ffffff; text-decoration: none; font-size: 15px; font-weight: 600; border-radius: 6px;">Open</a>
                  </td>
                </tr>
              </table>
              {{end}}
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`))
