package notify

import (
	"context"
	"strings"

	"github.com/dalemusser/stratavault/internal/app/system/sharing"
)

// Sender delivers one email. *Mailer satisfies it.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// ShareNotifier emails grantees about new shares.
type ShareNotifier struct {
	sender  Sender
	appName string
	baseURL string
}

// NewShareNotifier creates a ShareNotifier. baseURL, when set, adds a link
// to the shared-with-me listing.
func NewShareNotifier(sender Sender, appName, baseURL string) *ShareNotifier {
	return &ShareNotifier{sender: sender, appName: appName, baseURL: strings.TrimRight(baseURL, "/")}
}

// ShareGranted implements sharing.Notifier.
func (n *ShareNotifier) ShareGranted(ctx context.Context, notice sharing.Notice) error {
	sharedBy := notice.SharedBy
	if sharedBy == "" {
		sharedBy = "Someone"
	}
	data := ShareEmailData{
		AppName:     n.appName,
		GranteeName: notice.GranteeName,
		SharedBy:    sharedBy,
		ItemName:    notice.ItemName,
		ItemKind:    string(notice.ItemType),
		Permission:  string(notice.Permission),
	}
	if n.baseURL != "" {
		data.OpenURL = n.baseURL + "/api/shared-with-me"
	}
	text, html, err := ShareEmail(data)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Email{
		To:       notice.GranteeEmail,
		Subject:  sharedBy + " shared \"" + notice.ItemName + "\" with you",
		TextBody: text,
		HTMLBody: html,
	})
}
